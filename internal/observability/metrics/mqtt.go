package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks fusion state publishing. All methods accept a nil receiver.
type MQTTMetrics struct {
	connected      prometheus.Gauge
	lastConnect    prometheus.Gauge
	reconnects     prometheus.Counter
	connectErrors  prometheus.Counter
	publishesTotal *prometheus.CounterVec
	payloadSize    prometheus.Histogram
	publishLatency prometheus.Histogram
}

// NewMQTTMetrics creates and registers the MQTT collectors.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connected",
			Help: "1 while the broker connection is up",
		}),
		lastConnect: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_last_connect_time_seconds",
			Help: "Unix time of the last successful broker connection",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_reconnect_attempts_total",
			Help: "Reconnection attempts made by the client",
		}),
		connectErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_connection_errors_total",
			Help: "Failed connects and lost connections",
		}),
		publishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_state_publishes_total",
			Help: "Fusion state publishes, by status",
		}, []string{"status"}),
		payloadSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_state_payload_bytes",
			Help:    "Size of published fusion state payloads",
			Buckets: prometheus.ExponentialBuckets(packetSizeStart, packetSizeFactor, packetSizeCount+2),
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_latency_seconds",
			Help:    "Time until the broker acknowledged a publish",
			Buckets: prometheus.ExponentialBuckets(latencyStart, latencyFactor, latencyCount),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// SetConnected records the connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if !connected {
		m.connected.Set(0)
		return
	}
	m.connected.Set(1)
	m.lastConnect.SetToCurrentTime()
}

// RecordReconnect counts one reconnection attempt.
func (m *MQTTMetrics) RecordReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// RecordConnectionError counts a failed connect or a lost connection.
func (m *MQTTMetrics) RecordConnectionError() {
	if m != nil {
		m.connectErrors.Inc()
	}
}

// RecordPublish counts one publish. Size and latency are observed only on success.
func (m *MQTTMetrics) RecordPublish(err error, size int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishesTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.publishesTotal.WithLabelValues(StatusSuccess).Inc()
	m.payloadSize.Observe(float64(size))
	m.publishLatency.Observe(elapsed.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connected.Describe(ch)
	m.lastConnect.Describe(ch)
	m.reconnects.Describe(ch)
	m.connectErrors.Describe(ch)
	m.publishesTotal.Describe(ch)
	m.payloadSize.Describe(ch)
	m.publishLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connected.Collect(ch)
	m.lastConnect.Collect(ch)
	m.reconnects.Collect(ch)
	m.connectErrors.Collect(ch)
	m.publishesTotal.Collect(ch)
	m.payloadSize.Collect(ch)
	m.publishLatency.Collect(ch)
}
