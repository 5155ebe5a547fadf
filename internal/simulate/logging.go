package simulate

import "github.com/tphakala/dronenet-go/internal/logger"

// GetLogger returns the simulator logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("simulate")
}
