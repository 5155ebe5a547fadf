// Package detection holds the value types exchanged between nodes, the frame
// store and the localization engine.
package detection

import (
	"maps"
	"slices"
	"time"
)

// Frame is one node's feature summary for one hop. Frames are built once and
// never mutated afterwards; DirConf is zero exactly when DirLocal is the zero vector.
type Frame struct {
	NodeID      int
	Seq         int64
	Timestamp   time.Time
	Present     bool
	MicRMS      []float64
	NoiseRMS    []float64
	Crest       []float64
	Bandpower   [2]float64
	DirLocal    [3]float64
	DirConf     float64
	TotalEnergy float64
	SupplyV     float64
	TempC       float64
	Heartbeat   bool
	// Extra carries wire fields this version does not model.
	Extra map[string]any
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.MicRMS = slices.Clone(f.MicRMS)
	c.NoiseRMS = slices.Clone(f.NoiseRMS)
	c.Crest = slices.Clone(f.Crest)
	c.Extra = maps.Clone(f.Extra)
	return &c
}

// HasDirection reports whether the frame carries a usable bearing.
func (f *Frame) HasDirection() bool {
	return f.DirLocal != [3]float64{}
}

// NodeDetail is the per-node part of a FusionState.
type NodeDetail struct {
	ID     int        `json:"id"`
	Energy float64    `json:"energy"`
	Dir    [3]float64 `json:"dir"`
	Online bool       `json:"online"`
}

// FusionState is the server's current estimate of the source.
type FusionState struct {
	Timestamp   time.Time    `json:"timestamp"`
	Present     bool         `json:"present"`
	Position    [3]float64   `json:"position"`
	Velocity    [3]float64   `json:"velocity"`
	Confidence  float64      `json:"confidence"`
	Error       float64      `json:"error"`
	NodeDetails []NodeDetail `json:"node_details"`
}

// Clone returns a deep copy of s.
func (s FusionState) Clone() FusionState {
	s.NodeDetails = slices.Clone(s.NodeDetails)
	return s
}

// NodeHealth is the liveness summary of one node.
type NodeHealth struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
	Present  bool      `json:"present"`
	Seq      int64     `json:"seq"`
}
