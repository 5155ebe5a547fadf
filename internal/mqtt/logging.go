package mqtt

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the MQTT logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
