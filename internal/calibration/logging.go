package calibration

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the calibration logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("calibration")
}
