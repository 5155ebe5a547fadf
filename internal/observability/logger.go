package observability

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the metrics logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("metrics")
}
