package localization

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		RateHz:          20,
		Bounds:          [3][2]float64{{-5, 15}, {-5, 5}, {0, 5}},
		GridStep:        1,
		DirectionWeight: 0.3,
		Alpha:           0.4,
		Beta:            0.2,
		NodePositions:   pairPositions,
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *store.FrameStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	s := store.New(store.WithClock(clock.Now))
	return NewEngine(cfg, s, WithClock(clock.Now)), s, clock
}

func feedPair(s *store.FrameStore, present bool) {
	for _, f := range pair([3]float64{1, 0, 0}, [3]float64{-1, 0, 0}) {
		f.Present = present
		s.UpdateFrame(f)
	}
}

func TestStepNeedsTwoNodes(t *testing.T) {
	t.Parallel()

	e, s, _ := newTestEngine(t, testConfig())
	before := s.FusionState()

	_, ok := e.Step()
	assert.False(t, ok)

	s.UpdateFrame(&detection.Frame{NodeID: 1, Present: true, TotalEnergy: 1})
	_, ok = e.Step()
	assert.False(t, ok)
	assert.Equal(t, before, s.FusionState())
}

func TestStepLocatesSymmetricSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Alpha, cfg.Beta = 1, 1
	e, s, clock := newTestEngine(t, cfg)
	feedPair(s, true)
	clock.Advance(time.Second)

	state, ok := e.Step()
	require.True(t, ok)
	assert.True(t, state.Present)
	assert.InDelta(t, 5, state.Position[0], cfg.GridStep)
	assert.InDelta(t, 0, state.Position[1], cfg.GridStep)
	assert.InDelta(t, 0, state.Position[2], cfg.GridStep)
	assert.InDelta(t, 1, state.Confidence, 1e-6)
	assert.InDelta(t, 0, state.Error, 1e-6)
	assert.Equal(t, clock.Now(), state.Timestamp)

	require.Len(t, state.NodeDetails, 2)
	first, second := state.NodeDetails[0], state.NodeDetails[1]
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 2, second.ID)
	assert.InDelta(t, 0.5, first.Energy, 1e-6)
	assert.Equal(t, [3]float64{1, 0, 0}, first.Dir)
	assert.Equal(t, [3]float64{-1, 0, 0}, second.Dir)
	assert.True(t, first.Online)

	assert.Equal(t, state, s.FusionState())
}

func TestStepSmoothing(t *testing.T) {
	t.Parallel()

	e, s, clock := newTestEngine(t, testConfig())
	feedPair(s, true)
	clock.Advance(time.Second)

	state, ok := e.Step()
	require.True(t, ok)
	// refined point is (5,0,0); the previous estimate is the origin
	assert.InDelta(t, 2.0, state.Position[0], 1e-9)
	assert.InDelta(t, 1.0, state.Velocity[0], 1e-9)

	clock.Advance(500 * time.Millisecond)
	state, ok = e.Step()
	require.True(t, ok)
	// position 0.4*5 + 0.6*2, raw velocity (5-2)/0.5
	assert.InDelta(t, 3.2, state.Position[0], 1e-9)
	assert.InDelta(t, 0.2*6+0.8*1, state.Velocity[0], 1e-9)
}

func TestStepMinimumDT(t *testing.T) {
	t.Parallel()

	e, s, _ := newTestEngine(t, testConfig())
	feedPair(s, true)

	// same instant as the initial fusion timestamp
	state, ok := e.Step()
	require.True(t, ok)
	assert.InDelta(t, 0.2*5/0.001, state.Velocity[0], 1e-6)
}

func TestStepSilenceCarriesTrack(t *testing.T) {
	t.Parallel()

	e, s, clock := newTestEngine(t, testConfig())
	feedPair(s, true)
	clock.Advance(time.Second)
	located, ok := e.Step()
	require.True(t, ok)

	feedPair(s, false)
	clock.Advance(time.Second)
	silent, ok := e.Step()
	require.True(t, ok)

	assert.False(t, silent.Present)
	assert.Zero(t, silent.Confidence)
	assert.Equal(t, located.Position, silent.Position)
	assert.Equal(t, located.Velocity, silent.Velocity)
	assert.Equal(t, located.Timestamp, silent.Timestamp)
	assert.InDelta(t, located.Error, silent.Error, 0)
	assert.Equal(t, located.NodeDetails, silent.NodeDetails)
}

func TestOfflineNodesStillCount(t *testing.T) {
	t.Parallel()

	e, s, clock := newTestEngine(t, testConfig())
	feedPair(s, true)
	clock.Advance(10 * time.Second)
	s.MarkOffline(2 * time.Second)

	state, ok := e.Step()
	require.True(t, ok)
	assert.True(t, state.Present)
	for _, d := range state.NodeDetails {
		assert.True(t, d.Online)
	}
}

func TestOnUpdate(t *testing.T) {
	t.Parallel()

	e, s, _ := newTestEngine(t, testConfig())
	var got []detection.FusionState
	e.OnUpdate(func(fs detection.FusionState) { got = append(got, fs) })

	e.Step()
	assert.Empty(t, got)

	feedPair(s, true)
	e.Step()
	feedPair(s, false)
	e.Step()
	require.Len(t, got, 2)
	assert.True(t, got[0].Present)
	assert.False(t, got[1].Present)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.RateHz = 200
	s := store.New()
	e := NewEngine(cfg, s)
	feedPair(s, true)

	var updates atomic.Int32
	e.OnUpdate(func(detection.FusionState) { updates.Add(1) })

	require.NoError(t, e.Start(context.Background()))
	require.Error(t, e.Start(context.Background()), "already running")

	assert.Eventually(t, func() bool { return updates.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop(), "stopping twice is harmless")
	assert.True(t, s.FusionState().Present)

	// restartable after stop
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())
}

func TestContextCancelStopsLoop(t *testing.T) {
	cfg := testConfig()
	cfg.RateHz = 100
	e := NewEngine(cfg, store.New())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	cancel()

	select {
	case <-e.done:
	case <-time.After(StopTimeout):
		t.Fatal("loop did not exit after cancel")
	}
	require.NoError(t, e.Stop())
}

func TestConfigPeriod(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 50*time.Millisecond, Config{RateHz: 20}.Period())
	assert.Equal(t, time.Second, Config{}.Period())
}
