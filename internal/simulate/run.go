package simulate

import (
	"context"
	"io"
	"time"

	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/packet"
	"github.com/tphakala/dronenet-go/internal/sampler"
)

// Default update rates in Hz.
const (
	DefaultPositionRate = 20.0
	DefaultPacketRate   = 10.0

	progressLogInterval = 5 * time.Second
)

func tickPeriod(rate float64) (time.Duration, error) {
	if rate <= 0 {
		return 0, errors.Newf("rate must be positive, got %g", rate).
			Component("simulate").
			Category(errors.CategoryValidation).
			Build()
	}
	return time.Duration(float64(time.Second) / rate), nil
}

// FlyPath advances the flight at rate Hz and writes each position to
// stateFile until ctx is cancelled. Simulation time advances by exactly one
// period per step regardless of scheduling jitter.
func FlyPath(ctx context.Context, path Path, rate float64, stateFile string) error {
	if err := path.Validate(); err != nil {
		return err
	}
	period, err := tickPeriod(rate)
	if err != nil {
		return err
	}

	log := GetLogger()
	log.Info("drone position simulation started",
		logger.String("pattern", path.Pattern),
		logger.Float64("speed", path.Speed),
		logger.Float64("height", path.Height),
		logger.String("state_file", stateFile))

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var simTime float64
	var lastLog time.Time
	for {
		pos := path.Position(simTime)
		if err := sampler.WriteDroneState(stateFile, pos, time.Now()); err != nil {
			return err
		}
		if time.Since(lastLog) >= progressLogInterval {
			log.Info("drone position",
				logger.Float64("x", pos[0]),
				logger.Float64("y", pos[1]),
				logger.Float64("z", pos[2]))
			lastLog = time.Now()
		}
		simTime += period.Seconds()

		select {
		case <-ctx.Done():
			log.Info("drone position simulation stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// StreamPackets sends one frame per simulated node at rate Hz to w, each
// Write carrying one datagram, until ctx is cancelled. Send failures are
// logged and do not stop the stream.
func StreamPackets(ctx context.Context, synth *Synthesizer, path Path, rate float64, w io.Writer) error {
	if err := path.Validate(); err != nil {
		return err
	}
	period, err := tickPeriod(rate)
	if err != nil {
		return err
	}

	log := GetLogger()
	log.Info("packet simulation started",
		logger.String("pattern", path.Pattern),
		logger.Any("nodes", synth.NodeIDs()),
		logger.Float64("rate_hz", rate))

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var simTime float64
	for {
		pos := path.Position(simTime)
		for _, f := range synth.Frames(pos, time.Now()) {
			data, err := packet.Encode(f)
			if err == nil {
				_, err = w.Write(data)
			}
			if err != nil {
				log.Error("failed to send packet", logger.Int("node_id", f.NodeID), logger.Error(err))
			}
		}
		log.Debug("drone position",
			logger.Float64("x", pos[0]),
			logger.Float64("y", pos[1]),
			logger.Float64("z", pos[2]))
		simTime += period.Seconds()

		select {
		case <-ctx.Done():
			log.Info("packet simulation stopped")
			return nil
		case <-ticker.C:
		}
	}
}
