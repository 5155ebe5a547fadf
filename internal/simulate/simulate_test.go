package simulate

import (
	"context"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/packet"
	"github.com/tphakala/dronenet-go/internal/sampler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pathWith(pattern string) Path {
	p := DefaultPath()
	p.Pattern = pattern
	return p
}

func TestPathPositions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern string
		t       float64
		want    [3]float64
	}{
		{"circle start", PatternCircle, 0, [3]float64{18, 10, 5}},
		{"circle quarter", PatternCircle, 2 * math.Pi, [3]float64{10, 18, 5}}, // angle = t*2/8
		{"line start", PatternLine, 0, [3]float64{2, 10, 5}},
		{"line far end", PatternLine, 4, [3]float64{18, 10, 5}}, // period 8 s
		{"line back", PatternLine, 6, [3]float64{10, 10, 5}},
		{"hover", PatternHover, 123, [3]float64{10, 10, 5}},
		{"figure8 start", PatternFigure8, 0, [3]float64{10, 10, 5}},
		{"figure8 quarter", PatternFigure8, 2 * math.Pi, [3]float64{18, 10, 5}},
		{"diagonal start", PatternDiagonal, 0, [3]float64{2, 2, 5}},
		{"diagonal corner", PatternDiagonal, 4 * math.Sqrt2, [3]float64{18, 18, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := pathWith(tt.pattern).Position(tt.t)
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-9, "axis %d", i)
			}
		})
	}
}

func TestCircleKeepsRadius(t *testing.T) {
	t.Parallel()
	p := DefaultPath()
	for ts := 0.0; ts < 60; ts += 0.37 {
		pos := p.Position(ts)
		assert.InDelta(t, DefaultRadius, math.Hypot(pos[0]-10, pos[1]-10), 1e-9)
	}
}

func TestPathValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultPath().Validate())

	err := pathWith("spiral").Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	p := DefaultPath()
	p.Speed = 0
	require.Error(t, p.Validate())
}

func TestSynthesizerFrames(t *testing.T) {
	t.Parallel()
	positions := map[int][3]float64{
		2: {20, 0, 1},
		1: {0, 0, 1},
	}
	s := NewSynthesizer(positions, 0, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, []int{1, 2}, s.NodeIDs())

	drone := [3]float64{4, 0, 4} // 5 m from node 1
	frames := s.Frames(drone, time.Unix(100, 0))
	require.Len(t, frames, 2)
	f := frames[0]
	assert.Equal(t, 1, f.NodeID)
	assert.Equal(t, int64(1), f.Seq)
	assert.True(t, f.Present)
	assert.InDelta(t, 0.8, f.DirLocal[0], 1e-9)
	assert.InDelta(t, 0.6, f.DirLocal[2], 1e-9)
	assert.InDelta(t, 0.8, f.DirConf, 1e-9)

	// Nominal energy 10/25 = 0.4 scaled by at most 1.2 noise and 1.2 mic gain.
	var sum float64
	for i, m := range f.MicRMS {
		assert.GreaterOrEqual(t, m, 0.0)
		assert.LessOrEqual(t, m, 0.4*2*1.2, "mic %d", i)
		assert.InDelta(t, m/noiseFloorRMS, f.Crest[i], 1e-9)
		sum += m
	}
	assert.InDelta(t, sum, f.TotalEnergy, 1e-12)
	assert.InDelta(t, f.MicRMS[0]*0.8, f.Bandpower[0], 1e-12)

	// The mic facing the source hears more than the ones facing away.
	assert.Greater(t, f.MicRMS[0], f.MicRMS[1])
	assert.Greater(t, f.MicRMS[0], f.MicRMS[2])

	next := s.Frames(drone, time.Unix(101, 0))
	assert.Equal(t, int64(2), next[0].Seq)
}

func TestSynthesizerSourceAtNode(t *testing.T) {
	t.Parallel()
	s := NewSynthesizer(map[int][3]float64{1: {0, 0, 0}}, 10, rand.New(rand.NewPCG(3, 4)))
	f := s.Frames([3]float64{0, 0, 0}, time.Now())[0]
	assert.Equal(t, [3]float64{0, 0, 1}, f.DirLocal)
	assert.False(t, math.IsInf(f.TotalEnergy, 0))
	assert.InDelta(t, 1.0, f.DirConf, 1e-9)
}

type datagramSink struct {
	mu    sync.Mutex
	grams [][]byte
}

func (d *datagramSink) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grams = append(d.grams, append([]byte(nil), p...))
	return len(p), nil
}

func TestStreamPackets(t *testing.T) {
	t.Parallel()
	s := NewSynthesizer(map[int][3]float64{1: {0, 0, 1}, 2: {20, 0, 1}}, 10, rand.New(rand.NewPCG(5, 6)))
	sink := &datagramSink{}

	ctx, cancel := context.WithTimeout(t.Context(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, StreamPackets(ctx, s, DefaultPath(), 50, sink))

	require.GreaterOrEqual(t, len(sink.grams), 4)
	f, err := packet.Decode(sink.grams[0])
	require.NoError(t, err)
	assert.Equal(t, 1, f.NodeID)
	assert.True(t, f.Present)
}

func TestStreamPacketsRejectsBadRate(t *testing.T) {
	t.Parallel()
	s := NewSynthesizer(map[int][3]float64{1: {0, 0, 1}}, 10, nil)
	err := StreamPackets(t.Context(), s, DefaultPath(), 0, &datagramSink{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestFlyPathWritesState(t *testing.T) {
	t.Parallel()
	stateFile := filepath.Join(t.TempDir(), "drone.json")
	p := pathWith(PatternHover)

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, FlyPath(ctx, p, 100, stateFile))

	pos, err := sampler.ReadDroneState(stateFile)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{10, 10, 5}, pos)
}
