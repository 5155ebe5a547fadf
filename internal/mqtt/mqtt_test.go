package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type message struct {
	topic   string
	payload []byte
}

// mockClient records publishes instead of talking to a broker.
type mockClient struct {
	mu           sync.Mutex
	messages     []message
	fail         error
	disconnected bool
	connects     int
}

func (m *mockClient) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	m.disconnected = false
	return nil
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disconnected
}

func (m *mockClient) Disconnect() {}

func (m *mockClient) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.messages = append(m.messages, message{topic: topic, payload: payload})
	return nil
}

func (m *mockClient) published() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]message(nil), m.messages...)
}

func TestStateTopic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "dronenet/state", StateTopic("dronenet"))
	assert.Equal(t, "site/a/state", StateTopic("site/a/"))
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()
	cfg := ConfigFromSettings(&conf.MQTTSettings{Broker: "tcp://broker:1883", Topic: "dronenet"})
	assert.Equal(t, "dronenet-server", cfg.ClientID)
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, DefaultConfig().PublishTimeout, cfg.PublishTimeout)
}

func TestPublisherSendsJSON(t *testing.T) {
	t.Parallel()
	mc := &mockClient{}
	p := NewPublisher(mc, "dronenet")
	p.Start(t.Context())

	want := detection.FusionState{
		Timestamp:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Present:    true,
		Position:   [3]float64{1, 2, 3},
		Confidence: 0.7,
		NodeDetails: []detection.NodeDetail{
			{ID: 1, Energy: 0.4, Online: true},
		},
	}
	p.Observe(want)

	assert.Eventually(t, func() bool { return len(mc.published()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	msg := mc.published()[0]
	assert.Equal(t, "dronenet/state", msg.topic)

	var got detection.FusionState
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.True(t, got.Timestamp.Equal(want.Timestamp))
	assert.Equal(t, want.Position, got.Position)
	assert.Equal(t, want.NodeDetails, got.NodeDetails)
}

func TestPublisherKeepsNewest(t *testing.T) {
	t.Parallel()
	mc := &mockClient{}
	p := NewPublisher(mc, "dronenet")

	// Not started: the queue holds one state and newer ones replace it.
	for i := range 5 {
		p.Observe(detection.FusionState{Confidence: float64(i)})
	}
	p.Start(t.Context())
	assert.Eventually(t, func() bool { return len(mc.published()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	var got detection.FusionState
	require.NoError(t, json.Unmarshal(mc.published()[0].payload, &got))
	assert.InDelta(t, 4.0, got.Confidence, 1e-12)
}

func TestPublisherSurvivesFailures(t *testing.T) {
	t.Parallel()
	mc := &mockClient{fail: errors.NewStd("broker down")}
	p := NewPublisher(mc, "dronenet")
	p.Start(t.Context())
	p.Observe(detection.FusionState{})
	p.Observe(detection.FusionState{})
	require.NoError(t, p.Stop())
	assert.Empty(t, mc.published())
}

func TestPublisherConnectsLazily(t *testing.T) {
	t.Parallel()
	mc := &mockClient{disconnected: true}
	p := NewPublisher(mc, "dronenet")
	p.Start(t.Context())
	p.Observe(detection.FusionState{Present: true})

	assert.Eventually(t, func() bool { return len(mc.published()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	mc.mu.Lock()
	defer mc.mu.Unlock()
	assert.Equal(t, 1, mc.connects)
}

func TestClientPublishWhileDisconnected(t *testing.T) {
	t.Parallel()
	mm, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	c := NewClient(DefaultConfig(), mm)

	assert.False(t, c.IsConnected())
	err = c.Publish(t.Context(), "dronenet/state", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	c.Disconnect()
}

func TestClientConnectRejectsBadBroker(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Broker = "not a url"
	c := NewClient(cfg, nil)

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	// A second attempt inside the cooldown is refused without dialing.
	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
}
