package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dronenet-go/internal/observability/metrics"
)

func TestNewServerMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewServerMetrics()
			assert.NoError(t, err)
			if m == nil {
				return
			}
			assert.NotNil(t, m.Receiver)
			assert.NotNil(t, m.Localization)
			assert.NotNil(t, m.MQTT)
			assert.NotNil(t, m.Datastore)
			assert.Nil(t, m.Node)
		})
	}
	wg.Wait()
}

func TestNodeMetricsExported(t *testing.T) {
	t.Parallel()

	m, err := NewNodeMetrics()
	require.NoError(t, err)
	require.NotNil(t, m.Node)
	assert.Nil(t, m.Receiver)

	m.Node.RecordFrame(false, true, 0.9, 0.15, 4.9, 37)
	m.Node.RecordFrame(true, false, 0, 0.15, 4.9, 37)
	m.Node.IncrementSendErrors()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "node_frames_sent_total 1")
	assert.Contains(t, string(body), "node_heartbeats_sent_total 1")
	assert.Contains(t, string(body), "node_send_errors_total 1")
	assert.Contains(t, string(body), "node_present 0")
	assert.Contains(t, string(body), "node_total_energy 0.9")
}

func TestReceiverMetricsCounts(t *testing.T) {
	t.Parallel()

	m, err := NewServerMetrics()
	require.NoError(t, err)

	m.Receiver.RecordPacket(metrics.PacketAccepted, 300)
	m.Receiver.RecordPacket(metrics.PacketAccepted, 310)
	m.Receiver.RecordPacket(metrics.PacketCorrupt, 12)
	m.Receiver.SetNodesOnline(3)

	expected := `
# HELP receiver_nodes_online Number of nodes currently online
# TYPE receiver_nodes_online gauge
receiver_nodes_online 3
# HELP receiver_packets_total Datagrams received, by outcome
# TYPE receiver_packets_total counter
receiver_packets_total{outcome="accepted"} 2
receiver_packets_total{outcome="corrupt"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.Receiver, strings.NewReader(expected),
		"receiver_nodes_online", "receiver_packets_total"))
}

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestMQTTMetricsGathered(t *testing.T) {
	t.Parallel()

	m, err := NewServerMetrics()
	require.NoError(t, err)

	m.MQTT.SetConnected(true)
	m.MQTT.RecordPublish(nil, 420, 3*time.Millisecond)
	m.MQTT.RecordPublish(nil, 380, 5*time.Millisecond)
	m.MQTT.RecordPublish(assert.AnError, 400, time.Millisecond)
	m.MQTT.RecordReconnect()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	connected := findFamily(t, families, "mqtt_connected")
	assert.InDelta(t, 1.0, connected.GetMetric()[0].GetGauge().GetValue(), 1e-12)

	publishes := findFamily(t, families, "mqtt_state_publishes_total")
	byStatus := map[string]float64{}
	for _, metric := range publishes.GetMetric() {
		byStatus[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{metrics.StatusSuccess: 2, metrics.StatusError: 1}, byStatus)

	size := findFamily(t, families, "mqtt_state_payload_bytes")
	h := size.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 800.0, h.GetSampleSum(), 1e-9)

	reconnects := findFamily(t, families, "mqtt_reconnect_attempts_total")
	assert.InDelta(t, 1.0, reconnects.GetMetric()[0].GetCounter().GetValue(), 1e-12)
}

func TestNilMQTTMetricsAreSafe(t *testing.T) {
	t.Parallel()
	var m *metrics.MQTTMetrics
	assert.NotPanics(t, func() {
		m.SetConnected(true)
		m.RecordPublish(nil, 1, time.Millisecond)
		m.RecordReconnect()
		m.RecordConnectionError()
	})
}
