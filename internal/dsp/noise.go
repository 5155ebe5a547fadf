package dsp

import (
	"slices"

	"github.com/tphakala/dronenet-go/internal/conf"
)

// DefaultNoiseAlpha is the noise floor's exponential smoothing factor.
const DefaultNoiseAlpha = 0.01

// NoiseTracker follows the per-channel background level. It stops adapting
// while a signal is present so the floor never climbs toward the target.
type NoiseTracker struct {
	level []float64
	alpha float64
}

// NewNoiseTracker seeds the tracker from calibration when it matches the
// channel count, otherwise from conf.DefaultNoiseRMS.
func NewNoiseTracker(channels int, calibration []float64, alpha float64) *NoiseTracker {
	level := make([]float64, channels)
	if len(calibration) == channels {
		copy(level, calibration)
	} else {
		for i := range level {
			level[i] = conf.DefaultNoiseRMS
		}
	}
	return &NoiseTracker{level: level, alpha: alpha}
}

// Update blends rms into the floor unless present is set.
func (n *NoiseTracker) Update(rms []float64, present bool) {
	if present {
		return
	}
	for i := range n.level {
		n.level[i] = (1-n.alpha)*n.level[i] + n.alpha*rms[i]
	}
}

// Levels returns a copy of the current floor.
func (n *NoiseTracker) Levels() []float64 {
	return slices.Clone(n.level)
}

// Sum returns the summed floor across channels.
func (n *NoiseTracker) Sum() float64 {
	var s float64
	for _, v := range n.level {
		s += v
	}
	return s
}
