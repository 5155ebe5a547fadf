package node

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the node agent logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("node")
}
