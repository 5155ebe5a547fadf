package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameCloneIsDeep(t *testing.T) {
	t.Parallel()

	f := &Frame{
		NodeID:    1,
		Timestamp: time.UnixMicro(1_700_000_000_000_000),
		MicRMS:    []float64{0.1, 0.2, 0.3},
		NoiseRMS:  []float64{0.05, 0.05, 0.05},
		Crest:     []float64{1.4, 1.4, 1.4},
		Extra:     map[string]any{"fw": "1.2"},
	}
	c := f.Clone()
	assert.Equal(t, f, c)

	c.MicRMS[0] = 9
	c.Extra["fw"] = "2.0"
	assert.InDelta(t, 0.1, f.MicRMS[0], 1e-12)
	assert.Equal(t, "1.2", f.Extra["fw"])

	var nilFrame *Frame
	assert.Nil(t, nilFrame.Clone())
}

func TestHasDirection(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Frame{}).HasDirection())
	assert.True(t, (&Frame{DirLocal: [3]float64{0, 0, 1}}).HasDirection())
}

func TestFusionStateClone(t *testing.T) {
	t.Parallel()

	s := FusionState{NodeDetails: []NodeDetail{{ID: 1, Energy: 0.5}}}
	c := s.Clone()
	c.NodeDetails[0].Energy = 1
	assert.InDelta(t, 0.5, s.NodeDetails[0].Energy, 1e-12)
}
