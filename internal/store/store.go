// Package store holds the server's latest-frame-per-node cache and the
// current fusion estimate. All methods are safe for concurrent use; callers
// receive copies and compute outside the lock.
package store

import (
	"sync"
	"time"

	"github.com/tphakala/dronenet-go/internal/detection"
)

// DefaultOfflineTimeout is how long a node may stay silent before it is
// reported offline.
const DefaultOfflineTimeout = 2 * time.Second

// NodeState is the cached view of one node.
type NodeState struct {
	LastFrame *detection.Frame
	LastSeen  time.Time
	Online    bool
}

// FrameStore maps node ids to their most recent frame.
type FrameStore struct {
	mu     sync.RWMutex
	nodes  map[int]*NodeState
	fusion detection.FusionState
	now    func() time.Time
}

// Option configures a FrameStore.
type Option func(*FrameStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FrameStore) {
		s.now = now
	}
}

// New returns an empty store whose fusion state is timestamped at creation.
func New(opts ...Option) *FrameStore {
	s := &FrameStore{
		nodes: make(map[int]*NodeState),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fusion = detection.FusionState{Timestamp: s.now()}
	return s
}

// UpdateFrame replaces the node's latest frame and marks it online. Frames
// are treated as immutable once stored.
func (s *FrameStore) UpdateFrame(f *detection.Frame) {
	if f == nil {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.nodes[f.NodeID]
	if !ok {
		st = &NodeState{}
		s.nodes[f.NodeID] = st
	}
	st.LastFrame = f
	st.LastSeen = now
	st.Online = true
}

// Frames returns the latest frame of every node that has ever reported,
// whether or not it is currently online.
func (s *FrameStore) Frames() map[int]*detection.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]*detection.Frame, len(s.nodes))
	for id, st := range s.nodes {
		if st.LastFrame != nil {
			out[id] = st.LastFrame
		}
	}
	return out
}

// Node returns a copy of one node's state, or false when the node is unknown.
func (s *FrameStore) Node(id int) (NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.nodes[id]
	if !ok {
		return NodeState{}, false
	}
	return *st, true
}

// MarkOffline flags every node not seen within timeout as offline and
// returns the ids that changed state. Frames are never evicted.
func (s *FrameStore) MarkOffline(timeout time.Duration) []int {
	if timeout <= 0 {
		timeout = DefaultOfflineTimeout
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []int
	for id, st := range s.nodes {
		if st.Online && now.Sub(st.LastSeen) > timeout {
			st.Online = false
			changed = append(changed, id)
		}
	}
	return changed
}

// NodeHealth returns the liveness summary of every known node.
func (s *FrameStore) NodeHealth() map[int]detection.NodeHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]detection.NodeHealth, len(s.nodes))
	for id, st := range s.nodes {
		h := detection.NodeHealth{Online: st.Online, LastSeen: st.LastSeen}
		if st.LastFrame != nil {
			h.Present = st.LastFrame.Present
			h.Seq = st.LastFrame.Seq
		}
		out[id] = h
	}
	return out
}

// UpdateFusionState replaces the current estimate.
func (s *FrameStore) UpdateFusionState(fs detection.FusionState) {
	fs = fs.Clone()
	s.mu.Lock()
	s.fusion = fs
	s.mu.Unlock()
}

// FusionState returns a copy of the current estimate.
func (s *FrameStore) FusionState() detection.FusionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fusion.Clone()
}
