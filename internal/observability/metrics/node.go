package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeMetrics tracks a sensor node's agent loop.
type NodeMetrics struct {
	framesSent     prometheus.Counter
	heartbeatsSent prometheus.Counter
	sendErrors     prometheus.Counter
	present        prometheus.Gauge
	totalEnergy    prometheus.Gauge
	noiseFloor     prometheus.Gauge
	supplyVoltage  prometheus.Gauge
	temperature    prometheus.Gauge
}

// NewNodeMetrics creates and registers the node collectors.
func NewNodeMetrics(registry *prometheus.Registry) (*NodeMetrics, error) {
	m := &NodeMetrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "node_frames_sent_total",
			Help: "Feature frames sent to the server",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "node_heartbeats_sent_total",
			Help: "Heartbeat frames sent to the server",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "node_send_errors_total",
			Help: "Datagrams that failed to encode or send",
		}),
		present: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_present",
			Help: "1 while the local detector reports a source",
		}),
		totalEnergy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_total_energy",
			Help: "Summed channel RMS of the latest frame",
		}),
		noiseFloor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_noise_floor",
			Help: "Summed noise floor of the latest frame",
		}),
		supplyVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_supply_volts",
			Help: "Reported supply voltage",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_temperature_celsius",
			Help: "Reported board temperature",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register node metrics: %w", err)
	}
	return m, nil
}

// RecordFrame updates the gauges from a sent frame.
func (m *NodeMetrics) RecordFrame(heartbeat, present bool, totalEnergy, noiseSum, supplyV, tempC float64) {
	if heartbeat {
		m.heartbeatsSent.Inc()
	} else {
		m.framesSent.Inc()
		m.totalEnergy.Set(totalEnergy)
	}
	if present {
		m.present.Set(1)
	} else {
		m.present.Set(0)
	}
	m.noiseFloor.Set(noiseSum)
	m.supplyVoltage.Set(supplyV)
	m.temperature.Set(tempC)
}

// IncrementSendErrors counts a failed send.
func (m *NodeMetrics) IncrementSendErrors() {
	m.sendErrors.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NodeMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *NodeMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *NodeMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesSent, m.heartbeatsSent, m.sendErrors, m.present,
		m.totalEnergy, m.noiseFloor, m.supplyVoltage, m.temperature,
	}
}
