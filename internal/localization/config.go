package localization

import (
	"time"

	"github.com/tphakala/dronenet-go/internal/conf"
)

// Config holds the engine's tuning and the node geometry.
type Config struct {
	RateHz          float64
	Bounds          [3][2]float64 // x, y, z as [min, max]
	GridStep        float64
	DirectionWeight float64
	Alpha           float64 // position smoothing
	Beta            float64 // velocity smoothing
	NodePositions   map[int][3]float64
}

// ConfigFromSettings builds a Config from the server settings.
func ConfigFromSettings(s *conf.ServerSettings) Config {
	l := s.Localization
	cfg := Config{
		RateHz:          l.RateHz,
		GridStep:        l.GridStep,
		DirectionWeight: l.DirectionWeight,
		Alpha:           l.SmoothingAlpha,
		Beta:            l.SmoothingBeta,
		NodePositions:   s.NodePositions(),
	}
	for i, axis := range [][]float64{l.GridBounds.X, l.GridBounds.Y, l.GridBounds.Z} {
		if len(axis) == 2 {
			cfg.Bounds[i] = [2]float64{axis[0], axis[1]}
		}
	}
	return cfg
}

// Period returns the tick interval.
func (c Config) Period() time.Duration {
	if c.RateHz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / c.RateHz)
}
