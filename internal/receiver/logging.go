package receiver

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the receiver logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("receiver")
}
