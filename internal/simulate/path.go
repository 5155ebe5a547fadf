// Package simulate drives bench setups without hardware: a flight path that
// feeds simulated nodes through the drone state file, and a packet generator
// that stands in for the nodes entirely.
package simulate

import (
	"math"
	"slices"

	"github.com/tphakala/dronenet-go/internal/errors"
)

// Flight patterns.
const (
	PatternCircle   = "circle"
	PatternLine     = "line"
	PatternHover    = "hover"
	PatternFigure8  = "figure8"
	PatternDiagonal = "diagonal"
)

// Patterns lists the supported flight patterns.
var Patterns = []string{PatternCircle, PatternLine, PatternHover, PatternFigure8, PatternDiagonal}

// Path defaults.
const (
	DefaultSpeed  = 2.0 // m/s
	DefaultHeight = 5.0 // m
	DefaultRadius = 8.0 // m
)

// DefaultCenter is the middle of the surveillance area.
var DefaultCenter = [2]float64{10, 10}

// Path describes a repeating flight at fixed height.
type Path struct {
	Pattern string
	Speed   float64
	Height  float64
	Radius  float64
	Center  [2]float64
}

// DefaultPath returns a circle around DefaultCenter.
func DefaultPath() Path {
	return Path{
		Pattern: PatternCircle,
		Speed:   DefaultSpeed,
		Height:  DefaultHeight,
		Radius:  DefaultRadius,
		Center:  DefaultCenter,
	}
}

// Validate checks the pattern and that speed and radius are positive.
func (p Path) Validate() error {
	switch {
	case !slices.Contains(Patterns, p.Pattern):
		return errors.Newf("unknown pattern %q", p.Pattern).
			Component("simulate").
			Category(errors.CategoryValidation).
			Build()
	case p.Speed <= 0 || p.Radius <= 0:
		return errors.Newf("speed and radius must be positive").
			Component("simulate").
			Category(errors.CategoryValidation).
			Context("speed", p.Speed).
			Context("radius", p.Radius).
			Build()
	}
	return nil
}

// Position returns the drone position t seconds into the flight.
func (p Path) Position(t float64) [3]float64 {
	cx, cy, r := p.Center[0], p.Center[1], p.Radius

	switch p.Pattern {
	case PatternCircle:
		a := math.Mod(t*p.Speed/r, 2*math.Pi)
		return [3]float64{cx + r*math.Cos(a), cy + r*math.Sin(a), p.Height}
	case PatternLine:
		s := shuttle(t, 2*r/p.Speed)
		return [3]float64{cx - r + 2*r*s, cy, p.Height}
	case PatternFigure8:
		a := math.Mod(t*p.Speed/r, 2*math.Pi)
		return [3]float64{cx + r*math.Sin(a), cy + r*math.Sin(a)*math.Cos(a), p.Height}
	case PatternDiagonal:
		s := shuttle(t, 2*r*math.Sqrt2/p.Speed)
		return [3]float64{cx - r + 2*r*s, cy - r + 2*r*s, p.Height}
	default:
		return [3]float64{cx, cy, p.Height}
	}
}

// shuttle maps t onto 0→1→0 over one period.
func shuttle(t, period float64) float64 {
	phase := math.Mod(t, period) / period
	if phase < 0.5 {
		return 2 * phase
	}
	return 2 - 2*phase
}
