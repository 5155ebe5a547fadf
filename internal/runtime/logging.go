package runtime

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the logger for process lifecycle messages.
func GetLogger() logger.Logger {
	return logger.Global().Module("main")
}
