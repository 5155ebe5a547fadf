package dsp

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// DirectionEstimator turns per-channel excess energy into a bearing using the
// fixed pointing vectors of the array.
type DirectionEstimator struct {
	vecs []r3.Vec
}

// NewDirectionEstimator normalizes the given vectors. Zero vectors stay zero.
func NewDirectionEstimator(vectors [][3]float64) *DirectionEstimator {
	vecs := make([]r3.Vec, len(vectors))
	for i, v := range vectors {
		vec := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		if n := r3.Norm(vec); n > 0 {
			vec = r3.Scale(1/n, vec)
		}
		vecs[i] = vec
	}
	return &DirectionEstimator{vecs: vecs}
}

// Estimate returns the unit bearing and a confidence of min(Σ weights, 1).
// Negative weights count as zero. All-zero weights, or weights whose vectors
// cancel out, give the zero vector with zero confidence.
func (d *DirectionEstimator) Estimate(weights []float64) ([3]float64, float64) {
	var sum r3.Vec
	var total float64
	for i, w := range weights {
		if i >= len(d.vecs) || w <= 0 {
			continue
		}
		sum = r3.Add(sum, r3.Scale(w, d.vecs[i]))
		total += w
	}
	if total == 0 {
		return [3]float64{}, 0
	}
	norm := r3.Norm(sum)
	if norm == 0 {
		return [3]float64{}, 0
	}
	u := r3.Scale(1/norm, sum)
	return [3]float64{u.X, u.Y, u.Z}, min(total, 1.0)
}
