package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct{ title, message string }

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{title, message})
	return nil
}

func (r *recordingSender) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func present(x float64) detection.FusionState {
	return detection.FusionState{Present: true, Position: [3]float64{x, 10, 5}, Confidence: 0.9}
}

func TestAcquiredThenLost(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	rs := &recordingSender{}
	n := NewTrackNotifier(rs, 2*time.Second, WithClock(clock.Now))
	n.Start(t.Context())
	defer func() { require.NoError(t, n.Stop()) }()

	n.Observe(present(1))
	n.Observe(present(2)) // still the same track
	assert.True(t, n.Tracking())

	clock.Advance(time.Second)
	n.Observe(detection.FusionState{})
	assert.True(t, n.Tracking(), "absent for less than lostAfter")

	clock.Advance(time.Second)
	n.Observe(detection.FusionState{})
	assert.False(t, n.Tracking())

	assert.Eventually(t, func() bool { return len(rs.all()) == 2 }, time.Second, 5*time.Millisecond)
	got := rs.all()
	assert.Equal(t, "Drone detected", got[0].title)
	assert.Contains(t, got[0].message, "(1.0, 10.0, 5.0)")
	assert.Equal(t, "Drone track lost", got[1].title)
	assert.Contains(t, got[1].message, "(2.0, 10.0, 5.0)")
}

func TestNoAlertWithoutTrack(t *testing.T) {
	t.Parallel()
	rs := &recordingSender{}
	n := NewTrackNotifier(rs, time.Second)
	n.Observe(detection.FusionState{})
	assert.False(t, n.Tracking())
	assert.Empty(t, n.queue)
}

func TestSendFailureKeepsWorkerAlive(t *testing.T) {
	t.Parallel()
	rs := &recordingSender{err: errors.NewStd("service unavailable")}
	clock := &fakeClock{now: time.Unix(0, 0)}
	n := NewTrackNotifier(rs, time.Second, WithClock(clock.Now))
	n.Start(t.Context())

	n.Observe(present(1))
	clock.Advance(2 * time.Second)
	n.Observe(detection.FusionState{})

	assert.Eventually(t, func() bool { return len(n.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
}

func TestNewShoutrrrSenderValidation(t *testing.T) {
	t.Parallel()
	_, err := NewShoutrrrSender(nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewShoutrrrSender([]string{"nosuchservice://secret-token@host"}, 0)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")

	s, err := NewShoutrrrSender([]string{"logger://"}, time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Send(t.Context(), "title", "message"))
}
