package datastore

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the datastore logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}
