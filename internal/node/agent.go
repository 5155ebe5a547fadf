// Package node runs the sensor side of the network: it reads sample blocks,
// extracts per-hop feature frames and streams them to the fusion server over UDP.
package node

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/dsp"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/observability/metrics"
	"github.com/tphakala/dronenet-go/internal/packet"
	"github.com/tphakala/dronenet-go/internal/sampler"
)

// TelemetryInterval is how often health readings are refreshed.
const TelemetryInterval = 10 * time.Second

// Extra keys added by the agent.
const extraLoad1 = "load1"

// Agent owns one node's sampling loop. Run must not be called concurrently.
type Agent struct {
	settings  *conf.NodeSettings
	src       sampler.Sampler
	extractor *dsp.Extractor
	conn      net.Conn
	telemetry TelemetrySource
	metrics   *metrics.NodeMetrics
	now       func() time.Time
	log       logger.Logger

	heartbeatInterval time.Duration
	lastHeartbeat     time.Time
	lastTelemetry     time.Time
	reading           Reading

	closeOnce sync.Once
}

// Option configures an Agent.
type Option func(*Agent)

// WithMetrics records sent frames and send failures.
func WithMetrics(m *metrics.NodeMetrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithTelemetry replaces the host telemetry source.
func WithTelemetry(t TelemetrySource) Option {
	return func(a *Agent) { a.telemetry = t }
}

// WithClock replaces time.Now for the heartbeat and pacing logic.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// NewAgent builds the extractor for settings and dials the fusion server.
// The agent takes ownership of src and closes it in Close.
func NewAgent(settings *conf.NodeSettings, src sampler.Sampler, opts ...Option) (*Agent, error) {
	if src.Channels() != settings.NumChannels() {
		return nil, errors.Newf("sampler has %d channels, array %q needs %d",
			src.Channels(), settings.ArrayMode, settings.NumChannels()).
			Component("node").
			Category(errors.CategoryConfiguration).
			Build()
	}

	conn, err := net.Dial("udp", settings.Network.Endpoint())
	if err != nil {
		return nil, errors.New(err).
			Component("node").
			Category(errors.CategoryNetwork).
			Context("endpoint", settings.Network.Endpoint()).
			Build()
	}

	a := &Agent{
		settings:  settings,
		src:       src,
		conn:      conn,
		telemetry: NewHostTelemetry(settings.Telemetry),
		now:       time.Now,
		log:       GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if hz := settings.Network.HeartbeatHz; hz > 0 {
		a.heartbeatInterval = time.Duration(float64(time.Second) / hz)
	}

	a.extractor = dsp.NewExtractor(dsp.ExtractorConfig{
		NodeID:        settings.NodeID,
		SampleRate:    settings.Sampling.SampleRate,
		HopSamples:    settings.Sampling.HopSamples(),
		WindowSamples: settings.Sampling.WindowSamples(),
		MicVectors:    settings.MicVectors(),
		Calibration:   settings.CalibrationNoiseRMS,
		SupplyV:       settings.Telemetry.SupplyV,
		TempC:         settings.Telemetry.TempC,
	})
	if len(settings.CalibrationNoiseRMS) != settings.NumChannels() {
		a.log.Info("no stored calibration, noise floor starts from default",
			logger.Float64("noise_rms", conf.DefaultNoiseRMS))
	}
	return a, nil
}

// Run reads and processes blocks until ctx is cancelled. A sampler failure
// ends the loop with an error; send failures are logged and skipped.
func (a *Agent) Run(ctx context.Context) error {
	blockSamples := a.settings.Sampling.BlockSamples
	period := time.Duration(float64(blockSamples) / a.src.SampleRate() * float64(time.Second))

	a.log.Info("node agent started",
		logger.Int("node_id", a.settings.NodeID),
		logger.String("server", a.settings.Network.Endpoint()),
		logger.Int("channels", a.src.Channels()),
		logger.Bool("continuous", a.settings.Sampling.Continuous))

	var cont *sampler.Continuous
	if a.settings.Sampling.Continuous {
		cont = sampler.NewContinuous(a.src, blockSamples)
		cont.Start()
		defer func() {
			if err := cont.Stop(); err != nil {
				a.log.Warn("continuous sampler stop", logger.Error(err))
			}
		}()
	}

	timer := time.NewTimer(period)
	timer.Stop()
	defer timer.Stop()

	next := a.now()
	for {
		if err := ctx.Err(); err != nil {
			a.log.Info("node agent stopping")
			return nil
		}

		a.refreshTelemetry(ctx)

		blocks, err := a.nextBlocks(cont, blockSamples)
		if err != nil {
			return errors.New(err).
				Component("node").
				Category(errors.CategorySampler).
				Context("node_id", a.settings.NodeID).
				Build()
		}
		for _, block := range blocks {
			if err := a.ProcessBlock(block); err != nil {
				return err
			}
		}

		// Software generators return immediately; keep them at the sample rate.
		// Falling behind resets the schedule instead of bursting to catch up.
		next = next.Add(period)
		wait := next.Sub(a.now())
		if wait <= 0 {
			next = a.now()
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			a.log.Info("node agent stopping")
			return nil
		case <-timer.C:
		}
	}
}

func (a *Agent) nextBlocks(cont *sampler.Continuous, blockSamples int) ([][][]float64, error) {
	if cont != nil {
		return cont.PopBlocks()
	}
	block, err := a.src.ReadBlock(blockSamples)
	if err != nil {
		return nil, err
	}
	return [][][]float64{block}, nil
}

// ProcessBlock pushes one block through the extractor and sends whatever it
// yields. When no frame is due and the heartbeat interval has elapsed since
// the last transmission, a heartbeat is sent instead.
func (a *Agent) ProcessBlock(block [][]float64) error {
	frames, err := a.extractor.Push(block)
	if err != nil {
		return errors.New(err).
			Component("node").
			Category(errors.CategorySignal).
			Context("node_id", a.settings.NodeID).
			Build()
	}

	now := a.now()
	if len(frames) > 0 {
		a.lastHeartbeat = now
		for _, f := range frames {
			a.send(f)
		}
		return nil
	}

	if a.heartbeatInterval > 0 && now.Sub(a.lastHeartbeat) >= a.heartbeatInterval {
		a.send(a.extractor.Heartbeat())
		a.lastHeartbeat = now
	}
	return nil
}

func (a *Agent) send(f *detection.Frame) {
	if a.reading.HasLoad {
		f.Extra = map[string]any{extraLoad1: a.reading.Load1}
	}

	data, err := packet.Encode(f)
	if err == nil {
		_, err = a.conn.Write(data)
	}
	if err != nil {
		a.log.Warn("failed to send frame",
			logger.Int64("seq", f.Seq),
			logger.Bool("heartbeat", f.Heartbeat),
			logger.Error(err))
		if a.metrics != nil {
			a.metrics.IncrementSendErrors()
		}
		return
	}

	if a.metrics != nil {
		var noise float64
		for _, n := range f.NoiseRMS {
			noise += n
		}
		a.metrics.RecordFrame(f.Heartbeat, f.Present, f.TotalEnergy, noise, f.SupplyV, f.TempC)
	}
}

func (a *Agent) refreshTelemetry(ctx context.Context) {
	now := a.now()
	if !a.lastTelemetry.IsZero() && now.Sub(a.lastTelemetry) < TelemetryInterval {
		return
	}
	a.lastTelemetry = now
	a.reading = a.telemetry.Read(ctx)
	a.extractor.SetTelemetry(a.reading.SupplyV, a.reading.TempC)
}

// Close releases the socket and the sampler.
func (a *Agent) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.src.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
