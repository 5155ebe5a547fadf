package sampler

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the sampler logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("sampler")
}
