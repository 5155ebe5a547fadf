package localization

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the localization logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("localization")
}
