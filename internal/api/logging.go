package api

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the API logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}
