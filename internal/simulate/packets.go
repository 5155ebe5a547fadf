package simulate

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tphakala/dronenet-go/internal/detection"
)

// Synthesis constants.
const (
	DefaultSourcePower = 10.0

	minDistance   = 0.5  // m, clamps the inverse square law
	maxDistance   = 25.0 // m, direction confidence reaches its floor here
	minDirConf    = 0.3
	noiseFloorRMS = 0.05
	simSupplyV    = 4.9
	simTempC      = 25.0
	simMics       = 3
)

// Synthesizer builds node frames straight from geometry, skipping the DSP:
// energy follows 1/d² and is spread over a horizontal three-mic cardioid.
type Synthesizer struct {
	positions   map[int][3]float64
	ids         []int
	sourcePower float64
	rng         *rand.Rand
	seq         map[int]int64
}

// NewSynthesizer creates a synthesizer for the given node positions. rng may
// be nil for a time-seeded source.
func NewSynthesizer(positions map[int][3]float64, sourcePower float64, rng *rand.Rand) *Synthesizer {
	if sourcePower <= 0 {
		sourcePower = DefaultSourcePower
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)) //nolint:gosec // simulation noise
	}
	ids := make([]int, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return &Synthesizer{
		positions:   positions,
		ids:         ids,
		sourcePower: sourcePower,
		rng:         rng,
		seq:         make(map[int]int64, len(positions)),
	}
}

// NodeIDs returns the simulated node ids in ascending order.
func (s *Synthesizer) NodeIDs() []int {
	return slices.Clone(s.ids)
}

// Frames returns one frame per node for a source at drone. Sequence numbers
// advance per node starting at 1.
func (s *Synthesizer) Frames(drone [3]float64, at time.Time) []*detection.Frame {
	out := make([]*detection.Frame, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.frame(id, drone, at))
	}
	return out
}

func (s *Synthesizer) frame(id int, drone [3]float64, at time.Time) *detection.Frame {
	s.seq[id]++
	pos := s.positions[id]
	vec := r3.Sub(r3.Vec{X: drone[0], Y: drone[1], Z: drone[2]}, r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]})
	dist := r3.Norm(vec)

	eff := math.Max(dist, minDistance)
	energy := s.sourcePower / (eff * eff)
	energy *= math.Max(0.5, 1+0.1*s.rng.NormFloat64())

	dir := [3]float64{0, 0, 1}
	if dist > 0.01 {
		u := r3.Scale(1/dist, vec)
		dir = [3]float64{u.X, u.Y, u.Z}
	}

	mic := make([]float64, simMics)
	noise := make([]float64, simMics)
	crest := make([]float64, simMics)
	var total float64
	for i := range mic {
		a := float64(i) * 2 * math.Pi / simMics
		sensitivity := math.Max(0, (dir[0]*math.Cos(a)+dir[1]*math.Sin(a))*0.5+0.5)
		mic[i] = energy * sensitivity * (0.8 + 0.4*s.rng.Float64())
		noise[i] = noiseFloorRMS
		crest[i] = mic[i] / noiseFloorRMS
		total += mic[i]
	}

	return &detection.Frame{
		NodeID:      id,
		Seq:         s.seq[id],
		Timestamp:   at,
		Present:     true,
		MicRMS:      mic,
		NoiseRMS:    noise,
		Crest:       crest,
		Bandpower:   [2]float64{mic[0] * 0.8, mic[0] * 0.6},
		DirLocal:    dir,
		DirConf:     math.Max(minDirConf, 1-dist/maxDistance),
		TotalEnergy: total,
		SupplyV:     simSupplyV,
		TempC:       simTempC,
	}
}
