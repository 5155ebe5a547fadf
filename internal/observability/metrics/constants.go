// Package metrics provides custom Prometheus metrics for the dronenet components.
package metrics

import "time"

const (
	// ShutdownTimeout bounds the metrics endpoint's graceful shutdown.
	ShutdownTimeout = 5 * time.Second

	// Histogram buckets
	tickDurationStart  = 0.0005
	tickDurationFactor = 2
	tickDurationCount  = 12

	packetSizeStart  = 64
	packetSizeFactor = 2
	packetSizeCount  = 8

	latencyStart  = 0.001
	latencyFactor = 2
	latencyCount  = 10
)

// Status labels shared by the operation counters.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
