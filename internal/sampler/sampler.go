// Package sampler provides the multichannel voltage sources that feed a node:
// the ADC capture device and two software generators used for bench tests.
package sampler

import (
	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

// Sampler yields channels × n blocks of voltage samples.
type Sampler interface {
	// ReadBlock returns n samples per channel. It may block on hardware I/O.
	ReadBlock(n int) ([][]float64, error)
	Channels() int
	SampleRate() float64
	Close() error
}

// DefaultNoiseLevel is the gaussian background of the software generators, in volts.
const DefaultNoiseLevel = 0.02

// New selects the sampler for a node once at startup. Unless the simulator is
// requested, the capture device is tried first; if it cannot be opened the
// node falls back to the tone generator and never retries.
func New(settings *conf.NodeSettings) (Sampler, error) {
	log := GetLogger()
	channels := settings.NumChannels()
	fs := settings.Sampling.SampleRate

	if !settings.UseSimulator {
		hw, err := NewHardware(HardwareConfig{
			Device:     settings.CaptureDevice,
			SampleRate: fs,
			Channels:   channels,
			FullScale:  settings.PGAVoltage,
		})
		if err == nil {
			log.Info("capture device opened",
				logger.String("device", hw.DeviceName()),
				logger.Int("channels", channels))
			return hw, nil
		}
		log.Warn("capture device unavailable, falling back to tone generator", logger.Error(err))
		return NewSynthetic(fs, channels, DefaultNoiseLevel), nil
	}

	switch settings.Simulator {
	case conf.SimulatorDrone:
		pos, ok := settings.Position()
		if !ok {
			return nil, errors.Newf("drone simulator needs global_position").
				Component("sampler").
				Category(errors.CategoryConfiguration).
				Context("node_id", settings.NodeID).
				Build()
		}
		log.Info("using drone simulator",
			logger.String("state_file", settings.DroneStateFile),
			logger.Int("channels", channels))
		return NewDroneSim(DroneConfig{
			SampleRate:   fs,
			NodePosition: pos,
			MicVectors:   settings.MicVectors(),
			StateFile:    settings.DroneStateFile,
			NoiseLevel:   DefaultNoiseLevel,
		}), nil
	default:
		log.Info("using tone generator", logger.Int("channels", channels))
		return NewSynthetic(fs, channels, DefaultNoiseLevel), nil
	}
}

func newBlock(channels, n int) [][]float64 {
	block := make([][]float64, channels)
	for c := range block {
		block[c] = make([]float64, n)
	}
	return block
}
