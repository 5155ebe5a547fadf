package localization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tphakala/dronenet-go/internal/detection"
)

func pair(dirA, dirB [3]float64) map[int]*detection.Frame {
	return map[int]*detection.Frame{
		1: {NodeID: 1, Present: true, TotalEnergy: 1, DirLocal: dirA},
		2: {NodeID: 2, Present: true, TotalEnergy: 1, DirLocal: dirB},
	}
}

var pairPositions = map[int][3]float64{
	1: {0, 0, 0},
	2: {10, 0, 0},
}

func TestAxisPoints(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []float64{-5, -4, -3, -2, -1, 0}, axisPoints(-5, 0, 1))
	assert.Equal(t, []float64{5}, axisPoints(5, 5, 2))
	// the upper end can overshoot hi by less than one step
	assert.Equal(t, []float64{0, 2, 4, 6}, axisPoints(0, 5, 2))
	assert.Len(t, axisPoints(-5, 25, 1), 31)
	assert.Empty(t, axisPoints(3, 0, 1))
}

func TestCostSymmetricPointIsNearZero(t *testing.T) {
	t.Parallel()

	p := newProblem(pair([3]float64{1, 0, 0}, [3]float64{-1, 0, 0}), pairPositions, 0.3)
	center := p.cost(r3.Vec{X: 5})
	assert.Less(t, center, 1e-6)
	assert.Greater(t, p.cost(r3.Vec{X: 6}), center)
	assert.Greater(t, p.cost(r3.Vec{X: 5, Y: 1}), center)
}

func TestCostIgnoresUnpositionedDirection(t *testing.T) {
	t.Parallel()

	frames := pair([3]float64{}, [3]float64{})
	frames[3] = &detection.Frame{NodeID: 3, Present: true, TotalEnergy: 1, DirLocal: [3]float64{0, 0, 1}}

	withDir := newProblem(frames, pairPositions, 0.3)
	frames[3].DirLocal = [3]float64{}
	withoutDir := newProblem(frames, pairPositions, 0.3)

	pt := r3.Vec{X: 5, Y: 2, Z: 1}
	assert.InDelta(t, withoutDir.cost(pt), withDir.cost(pt), 0)
	// an unpositioned node still weighs in the energy term
	assert.Greater(t, withDir.cost(pt), 0.1)
}

func TestGridSearchFindsSymmetricPoint(t *testing.T) {
	t.Parallel()

	p := newProblem(pair([3]float64{1, 0, 0}, [3]float64{-1, 0, 0}), pairPositions, 0.3)
	best, c := p.gridSearch([3][2]float64{{-5, 15}, {-5, 5}, {0, 5}}, 1)
	assert.Equal(t, r3.Vec{X: 5}, best)
	assert.Less(t, c, 1e-6)
}

func TestGridSearchTieBreakKeepsFirstPoint(t *testing.T) {
	t.Parallel()

	// (5,-1,0) and (5,1,0) are mirror images, so their costs are identical.
	p := newProblem(pair([3]float64{}, [3]float64{}), pairPositions, 0.3)
	require.InDelta(t, p.cost(r3.Vec{X: 5, Y: -1}), p.cost(r3.Vec{X: 5, Y: 1}), 0)

	best, _ := p.gridSearch([3][2]float64{{5, 5}, {-1, 1}, {0, 0}}, 2)
	assert.Equal(t, r3.Vec{X: 5, Y: -1}, best)
}

func TestGridSearchEmptyGrid(t *testing.T) {
	t.Parallel()

	p := newProblem(pair([3]float64{}, [3]float64{}), pairPositions, 0.3)
	best, c := p.gridSearch([3][2]float64{{1, 0}, {0, 0}, {0, 0}}, 1)
	assert.Equal(t, r3.Vec{}, best)
	assert.False(t, math.IsInf(c, 0))
}

func TestRefineImproves(t *testing.T) {
	t.Parallel()

	p := newProblem(pair([3]float64{}, [3]float64{}), pairPositions, 0.3)
	start := r3.Vec{X: 4}
	got := p.refine(start, 1)

	assert.Less(t, p.cost(got), p.cost(start))
	assert.InDelta(t, 5, got.X, 0.5)
}

func TestRefineStaysAtOptimum(t *testing.T) {
	t.Parallel()

	p := newProblem(pair([3]float64{1, 0, 0}, [3]float64{-1, 0, 0}), pairPositions, 0.3)
	assert.Equal(t, r3.Vec{X: 5}, p.refine(r3.Vec{X: 5}, 1))
}

func TestNewProblemNormalizesOverAllNodes(t *testing.T) {
	t.Parallel()

	frames := map[int]*detection.Frame{
		9: {NodeID: 9, TotalEnergy: 3},
		2: {NodeID: 2, TotalEnergy: 1},
	}
	p := newProblem(frames, map[int][3]float64{2: {1, 1, 1}}, 0.3)
	require.Len(t, p.obs, 2)
	assert.Equal(t, 2, p.obs[0].id)
	assert.Equal(t, 9, p.obs[1].id)
	assert.InDelta(t, 0.25, p.obs[0].energy, 1e-6)
	assert.InDelta(t, 0.75, p.obs[1].energy, 1e-6)
	assert.True(t, p.obs[0].positioned)
	assert.False(t, p.obs[1].positioned)
}

func TestNewProblemMarksBearings(t *testing.T) {
	t.Parallel()

	p := newProblem(pair([3]float64{0, 0, 1}, [3]float64{}), pairPositions, 0.3)
	require.Len(t, p.obs, 2)
	assert.True(t, p.obs[0].hasDir)
	assert.False(t, p.obs[1].hasDir, "a zero bearing carries no direction")
}
