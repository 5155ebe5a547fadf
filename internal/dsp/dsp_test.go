package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dronenet-go/internal/errors"
)

func sine(freq, amp, fs float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/fs)
	}
	return out
}

func TestGoertzelOnBin(t *testing.T) {
	t.Parallel()

	const fs, n = 860.0, 860 // 1 Hz bins
	got := Goertzel(sine(120, 1.0, fs, n), 120, fs)
	assert.InDelta(t, 0.5, got, 0.01)

	got = Goertzel(sine(240, 0.2, fs, n), 240, fs)
	assert.InDelta(t, 0.1, got, 0.005)
}

func TestGoertzelOffBin(t *testing.T) {
	t.Parallel()

	const fs, n = 860.0, 860
	got := Goertzel(sine(150, 1.0, fs, n), 120, fs)
	assert.Less(t, got, 0.01)
}

func TestGoertzelEmpty(t *testing.T) {
	t.Parallel()
	assert.Zero(t, Goertzel(nil, 120, 860))
}

func TestNoiseTracker(t *testing.T) {
	t.Parallel()

	nt := NewNoiseTracker(3, nil, 0.5)
	assert.Equal(t, []float64{0.05, 0.05, 0.05}, nt.Levels())

	nt.Update([]float64{1, 1, 1}, true)
	assert.Equal(t, []float64{0.05, 0.05, 0.05}, nt.Levels(), "frozen while present")

	nt.Update([]float64{0.15, 0.05, 0.25}, false)
	levels := nt.Levels()
	assert.InDelta(t, 0.10, levels[0], 1e-12)
	assert.InDelta(t, 0.05, levels[1], 1e-12)
	assert.InDelta(t, 0.15, levels[2], 1e-12)
	assert.InDelta(t, 0.30, nt.Sum(), 1e-12)

	seeded := NewNoiseTracker(2, []float64{0.01, 0.02}, DefaultNoiseAlpha)
	assert.Equal(t, []float64{0.01, 0.02}, seeded.Levels())

	mismatched := NewNoiseTracker(2, []float64{0.01}, DefaultNoiseAlpha)
	assert.Equal(t, []float64{0.05, 0.05}, mismatched.Levels())
}

var triangle = [][3]float64{
	{1, 0, 0},
	{-0.5, math.Sqrt(3) / 2, 0},
	{-0.5, -math.Sqrt(3) / 2, 0},
}

func TestDirectionEstimatorZeroWeights(t *testing.T) {
	t.Parallel()

	d := NewDirectionEstimator(triangle)
	dir, c := d.Estimate([]float64{0, 0, 0})
	assert.Equal(t, [3]float64{}, dir)
	assert.Zero(t, c)

	dir, c = d.Estimate([]float64{-1, 0, -2})
	assert.Equal(t, [3]float64{}, dir)
	assert.Zero(t, c)
}

func TestDirectionEstimatorCancellation(t *testing.T) {
	t.Parallel()

	d := NewDirectionEstimator([][3]float64{{1, 0, 0}, {-1, 0, 0}})
	dir, c := d.Estimate([]float64{0.4, 0.4})
	assert.Equal(t, [3]float64{}, dir)
	assert.Zero(t, c)
}

func TestDirectionEstimatorSingleChannel(t *testing.T) {
	t.Parallel()

	d := NewDirectionEstimator(triangle)
	for i := range triangle {
		for _, w := range []float64{0.3, 2.5} {
			weights := make([]float64, 3)
			weights[i] = w
			dir, c := d.Estimate(weights)
			for k := range 3 {
				assert.InDelta(t, triangle[i][k], dir[k], 1e-9)
			}
			assert.InDelta(t, min(w, 1), c, 1e-12)
		}
	}
}

func TestDirectionEstimatorNormalizesGeometry(t *testing.T) {
	t.Parallel()

	d := NewDirectionEstimator([][3]float64{{0, 0, 5}, {0, 3, 0}})
	dir, c := d.Estimate([]float64{0.1, 0.1})
	assert.InDelta(t, 0, dir[0], 1e-9)
	assert.InDelta(t, math.Sqrt2/2, dir[1], 1e-9)
	assert.InDelta(t, math.Sqrt2/2, dir[2], 1e-9)
	assert.InDelta(t, 0.2, c, 1e-12)
}

func TestErrEmptyWindowCategory(t *testing.T) {
	t.Parallel()
	assert.True(t, errors.IsCategory(ErrEmptyWindow, errors.CategorySignal))
	assert.Equal(t, "dsp", ErrEmptyWindow.GetComponent())
}
