package store

import (
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dronenet-go/internal/detection"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
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

func frame(node int, seq int64, present bool) *detection.Frame {
	return &detection.Frame{NodeID: node, Seq: seq, Present: present, TotalEnergy: float64(seq)}
}

func TestUpdateFrameReplacesLatest(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := New(WithClock(clock.Now))

	s.UpdateFrame(frame(1, 1, false))
	clock.Advance(100 * time.Millisecond)
	s.UpdateFrame(frame(1, 2, true))
	s.UpdateFrame(frame(2, 7, false))

	frames := s.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, int64(2), frames[1].Seq)
	assert.Equal(t, int64(7), frames[2].Seq)

	st, ok := s.Node(1)
	require.True(t, ok)
	assert.True(t, st.Online)
	assert.Equal(t, clock.Now(), st.LastSeen)
}

func TestUnknownNodeIsAbsent(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok := s.Node(42)
	assert.False(t, ok)
	assert.Empty(t, s.Frames())
	assert.Empty(t, s.NodeHealth())

	s.UpdateFrame(nil)
	assert.Empty(t, s.Frames())
}

func TestMarkOfflineKeepsFrames(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	s.UpdateFrame(frame(1, 1, true))
	clock.Advance(1500 * time.Millisecond)
	s.UpdateFrame(frame(2, 1, false))

	clock.Advance(600 * time.Millisecond)
	changed := s.MarkOffline(2 * time.Second)
	assert.Equal(t, []int{1}, changed)

	health := s.NodeHealth()
	assert.False(t, health[1].Online)
	assert.True(t, health[1].Present)
	assert.True(t, health[2].Online)

	// a stale node stays visible to consumers
	frames := s.Frames()
	require.Contains(t, frames, 1)
	assert.Equal(t, int64(1), frames[1].Seq)

	assert.Empty(t, s.MarkOffline(2*time.Second), "already offline")

	s.UpdateFrame(frame(1, 2, false))
	assert.True(t, s.NodeHealth()[1].Online)
}

func TestMarkOfflineBoundary(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	s.UpdateFrame(frame(1, 1, false))

	clock.Advance(2 * time.Second)
	s.MarkOffline(0)
	assert.True(t, s.NodeHealth()[1].Online, "exactly at the timeout is still online")

	clock.Advance(time.Millisecond)
	s.MarkOffline(0)
	assert.False(t, s.NodeHealth()[1].Online)
}

func TestFusionState(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	initial := s.FusionState()
	assert.Equal(t, clock.Now(), initial.Timestamp)
	assert.False(t, initial.Present)

	details := []detection.NodeDetail{{ID: 1, Energy: 0.5, Online: true}}
	s.UpdateFusionState(detection.FusionState{
		Timestamp:   clock.Now().Add(time.Second),
		Present:     true,
		Position:    [3]float64{1, 2, 3},
		Confidence:  0.9,
		NodeDetails: details,
	})
	details[0].Energy = 99

	got := s.FusionState()
	assert.True(t, got.Present)
	assert.Equal(t, [3]float64{1, 2, 3}, got.Position)
	assert.InDelta(t, 0.5, got.NodeDetails[0].Energy, 0)

	got.NodeDetails[0].ID = 5
	assert.Equal(t, 1, s.FusionState().NodeDetails[0].ID)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	for node := range 4 {
		wg.Go(func() {
			for seq := range int64(200) {
				s.UpdateFrame(frame(node, seq+1, seq%2 == 0))
			}
		})
	}
	wg.Go(func() {
		for range 200 {
			_ = s.Frames()
			_ = s.NodeHealth()
			s.MarkOffline(time.Hour)
			s.UpdateFusionState(detection.FusionState{Present: true})
			_ = s.FusionState()
		}
	})
	wg.Wait()

	ids := slices.Sorted(maps.Keys(s.NodeHealth()))
	assert.Equal(t, []int{0, 1, 2, 3}, ids)
	for _, f := range s.Frames() {
		assert.Equal(t, int64(200), f.Seq)
	}
}
