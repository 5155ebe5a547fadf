package localization

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tphakala/dronenet-go/internal/detection"
)

const (
	epsilon = 1e-6

	refineRounds  = 10
	refineMinStep = 0.25
)

// observation is one node's contribution to the cost function.
type observation struct {
	id         int
	energy     float64 // normalized over all reporting nodes
	dir        r3.Vec
	hasDir     bool
	pos        r3.Vec
	positioned bool
}

// problem is the per-tick input of the solver.
type problem struct {
	obs             []observation
	directionWeight float64
}

// newProblem normalizes the frame energies and attaches node positions.
// Observations are ordered by node id so that summation order, and with it
// the grid tie-break, is reproducible.
func newProblem(frames map[int]*detection.Frame, positions map[int][3]float64, directionWeight float64) problem {
	ids := make([]int, 0, len(frames))
	var total float64
	for id, f := range frames {
		ids = append(ids, id)
		total += f.TotalEnergy
	}
	total += epsilon
	slices.Sort(ids)

	p := problem{obs: make([]observation, 0, len(ids)), directionWeight: directionWeight}
	for _, id := range ids {
		f := frames[id]
		o := observation{
			id:     id,
			energy: f.TotalEnergy / total,
			dir:    r3.Vec{X: f.DirLocal[0], Y: f.DirLocal[1], Z: f.DirLocal[2]},
		}
		o.hasDir = f.HasDirection()
		if pos, ok := positions[id]; ok {
			o.pos = r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}
			o.positioned = true
		}
		p.obs = append(p.obs, o)
	}
	return p
}

// cost compares the inverse-square energy pattern predicted for a source at
// point with the observed one, plus a penalty for every node whose bearing
// points away from it. Nodes without a position predict zero energy.
func (p problem) cost(point r3.Vec) float64 {
	pred := make([]float64, len(p.obs))
	var predTotal float64
	for i, o := range p.obs {
		if !o.positioned {
			continue
		}
		d := r3.Norm(r3.Sub(point, o.pos)) + epsilon
		pred[i] = 1 / (d * d)
		predTotal += pred[i]
	}
	predTotal += epsilon

	var err float64
	for i, o := range p.obs {
		diff := pred[i]/predTotal - o.energy
		err += diff * diff
	}

	for _, o := range p.obs {
		if !o.positioned || !o.hasDir {
			continue
		}
		target := r3.Sub(point, o.pos)
		norm := r3.Norm(target) + epsilon
		err += p.directionWeight * (1 - r3.Dot(o.dir, r3.Scale(1/norm, target)))
	}
	return err
}

// axisPoints mirrors a half-open arange over [lo, hi+step).
func axisPoints(lo, hi, step float64) []float64 {
	n := int(math.Ceil((hi + step - lo) / step))
	if n <= 0 {
		return nil
	}
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = lo + float64(i)*step
	}
	return pts
}

// gridSearch evaluates every grid point, x outermost and z innermost, and
// returns the first point reaching the minimum cost. An empty grid yields the
// origin.
func (p problem) gridSearch(bounds [3][2]float64, step float64) (r3.Vec, float64) {
	xs := axisPoints(bounds[0][0], bounds[0][1], step)
	ys := axisPoints(bounds[1][0], bounds[1][1], step)
	zs := axisPoints(bounds[2][0], bounds[2][1], step)

	best := r3.Vec{}
	bestCost := math.Inf(1)
	for _, x := range xs {
		for _, y := range ys {
			for _, z := range zs {
				pt := r3.Vec{X: x, Y: y, Z: z}
				if c := p.cost(pt); c < bestCost {
					best, bestCost = pt, c
				}
			}
		}
	}
	if math.IsInf(bestCost, 1) {
		return best, p.cost(best)
	}
	return best, bestCost
}

// refine runs first-improvement coordinate descent from start. Any trial that
// beats the current point is taken at once; a round without a move halves the
// step, and the search ends once the step drops below refineMinStep.
func (p problem) refine(start r3.Vec, gridStep float64) r3.Vec {
	point := start
	current := p.cost(point)
	step := gridStep * 0.5

	for range refineRounds {
		improved := false
		for axis := range 3 {
			for _, delta := range [2]float64{-step, step} {
				candidate := withAxis(point, axis, delta)
				if c := p.cost(candidate); c < current {
					point, current = candidate, c
					improved = true
				}
			}
		}
		if !improved {
			step *= 0.5
			if step < refineMinStep {
				break
			}
		}
	}
	return point
}

func withAxis(v r3.Vec, axis int, delta float64) r3.Vec {
	switch axis {
	case 0:
		v.X += delta
	case 1:
		v.Y += delta
	default:
		v.Z += delta
	}
	return v
}
