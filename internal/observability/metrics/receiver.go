package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Packet outcome labels.
const (
	PacketAccepted  = "accepted"
	PacketCorrupt   = "corrupt"
	PacketDuplicate = "duplicate"
	PacketHeartbeat = "heartbeat"
)

// ReceiverMetrics tracks datagrams arriving at the fusion server.
type ReceiverMetrics struct {
	packetsTotal *prometheus.CounterVec
	packetSize   prometheus.Histogram
	nodesOnline  prometheus.Gauge
	nodeLastSeq  *prometheus.GaugeVec
}

// NewReceiverMetrics creates and registers the receiver collectors.
func NewReceiverMetrics(registry *prometheus.Registry) (*ReceiverMetrics, error) {
	m := &ReceiverMetrics{
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receiver_packets_total",
			Help: "Datagrams received, by outcome",
		}, []string{"outcome"}),
		packetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "receiver_packet_size_bytes",
			Help:    "Size of received datagrams in bytes",
			Buckets: prometheus.ExponentialBuckets(packetSizeStart, packetSizeFactor, packetSizeCount),
		}),
		nodesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "receiver_nodes_online",
			Help: "Number of nodes currently online",
		}),
		nodeLastSeq: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "receiver_node_last_seq",
			Help: "Most recent sequence number seen per node",
		}, []string{"node"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register receiver metrics: %w", err)
	}
	return m, nil
}

// RecordPacket counts one datagram with its outcome.
func (m *ReceiverMetrics) RecordPacket(outcome string, size int) {
	m.packetsTotal.WithLabelValues(outcome).Inc()
	m.packetSize.Observe(float64(size))
}

// RecordSeq stores the latest sequence number of a node.
func (m *ReceiverMetrics) RecordSeq(nodeID int, seq int64) {
	m.nodeLastSeq.WithLabelValues(strconv.Itoa(nodeID)).Set(float64(seq))
}

// SetNodesOnline updates the online node count.
func (m *ReceiverMetrics) SetNodesOnline(n int) {
	m.nodesOnline.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *ReceiverMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.packetsTotal.Describe(ch)
	m.packetSize.Describe(ch)
	m.nodesOnline.Describe(ch)
	m.nodeLastSeq.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ReceiverMetrics) Collect(ch chan<- prometheus.Metric) {
	m.packetsTotal.Collect(ch)
	m.packetSize.Collect(ch)
	m.nodesOnline.Collect(ch)
	m.nodeLastSeq.Collect(ch)
}
