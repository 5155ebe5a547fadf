package sampler

import (
	"math"
	"math/rand/v2"
	"time"
)

// Base tones of the bench generator, cycled across channels.
var syntheticTones = [...]float64{110, 155, 210, 180}

const (
	syntheticAmplitude = 0.1
	syntheticDrift     = 0.05 // relative slow frequency wobble
)

// Synthetic produces one slowly drifting tone per channel plus gaussian noise.
type Synthetic struct {
	sampleRate float64
	channels   int
	noise      float64
	phase      []float64
	rng        *rand.Rand
	now        func() time.Time
}

// NewSynthetic creates a tone generator.
func NewSynthetic(sampleRate float64, channels int, noise float64) *Synthetic {
	return &Synthetic{
		sampleRate: sampleRate,
		channels:   channels,
		noise:      noise,
		phase:      make([]float64, channels),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // test signal
		now:        time.Now,
	}
}

// ReadBlock implements Sampler.
func (s *Synthetic) ReadBlock(n int) ([][]float64, error) {
	block := newBlock(s.channels, n)
	t := float64(s.now().UnixNano()) / 1e9
	for c := range block {
		freq := syntheticTones[c%len(syntheticTones)] * (1 + syntheticDrift*math.Sin(t*0.1+float64(c)))
		step := 2 * math.Pi * freq / s.sampleRate
		for i := range block[c] {
			block[c][i] = syntheticAmplitude*math.Sin(s.phase[c]+step*float64(i)) + s.rng.NormFloat64()*s.noise
		}
		s.phase[c] = math.Mod(s.phase[c]+step*float64(n), 2*math.Pi)
	}
	return block, nil
}

// Channels implements Sampler.
func (s *Synthetic) Channels() int { return s.channels }

// SampleRate implements Sampler.
func (s *Synthetic) SampleRate() float64 { return s.sampleRate }

// Close implements Sampler.
func (s *Synthetic) Close() error { return nil }
