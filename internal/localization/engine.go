// Package localization fuses the latest node frames into a smoothed source
// position. A fixed-rate loop reads the frame store, runs a coarse grid
// search followed by coordinate-descent refinement, and publishes the result.
package localization

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/observability/metrics"
	"github.com/tphakala/dronenet-go/internal/store"
)

const (
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout = 2 * time.Second

	minDT = time.Millisecond
)

// UpdateFunc receives every published fusion state. It runs on the engine
// goroutine and must not block.
type UpdateFunc func(detection.FusionState)

// Engine periodically localizes the source from the frames in a FrameStore.
type Engine struct {
	cfg     Config
	store   *store.FrameStore
	metrics *metrics.LocalizationMetrics
	now     func() time.Time
	log     logger.Logger

	// touched only by the loop goroutine, or by Step when no loop runs
	lastPosition r3.Vec
	lastVelocity r3.Vec

	subsMu sync.RWMutex
	subs   []UpdateFunc

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records tick outcomes and estimates.
func WithMetrics(m *metrics.LocalizationMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine reading from and publishing to s.
func NewEngine(cfg Config, s *store.FrameStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg,
		store: s,
		now:   time.Now,
		log:   GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnUpdate registers fn to be called after each published state.
func (e *Engine) OnUpdate(fn UpdateFunc) {
	e.subsMu.Lock()
	e.subs = append(e.subs, fn)
	e.subsMu.Unlock()
}

// Start launches the loop in a new goroutine. It stops when ctx is done or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return errors.Newf("localization engine already running").
			Component("localization").
			Category(errors.CategoryState).
			Build()
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running = true

	go e.run(ctx, e.stop, e.done)
	return nil
}

// Stop signals the loop and waits up to StopTimeout for it to exit. A tick in
// progress always completes first.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return nil
	}
	close(e.stop)
	e.running = false

	select {
	case <-e.done:
		return nil
	case <-time.After(StopTimeout):
		return errors.Newf("localization loop did not stop within %s", StopTimeout).
			Component("localization").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// run ticks on an accumulated deadline: each deadline is the previous one
// plus one period, so an overrun tick is followed immediately by the next.
func (e *Engine) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	period := e.cfg.Period()
	e.log.Info("localization loop started",
		logger.Float64("rate_hz", e.cfg.RateHz),
		logger.Int("nodes", len(e.cfg.NodePositions)))
	defer e.log.Info("localization loop stopped")

	next := e.now()
	timer := time.NewTimer(period)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		e.Step()

		next = next.Add(period)
		wait := next.Sub(e.now())
		if wait <= 0 {
			if e.metrics != nil {
				e.metrics.IncrementOverruns()
			}
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// Step runs one tick. It returns the published state, or false when fewer
// than two nodes have reported and nothing was published.
func (e *Engine) Step() (detection.FusionState, bool) {
	start := time.Now()
	state, outcome := e.localize(e.store.Frames())
	if e.metrics != nil {
		e.metrics.RecordTick(outcome, time.Since(start).Seconds())
	}
	if outcome == metrics.TickSkipped {
		return detection.FusionState{}, false
	}

	e.store.UpdateFusionState(state)
	if e.metrics != nil {
		e.metrics.RecordEstimate(state.Present, state.Confidence, state.Error, state.Position)
	}

	e.subsMu.RLock()
	subs := e.subs
	e.subsMu.RUnlock()
	for _, fn := range subs {
		fn(state.Clone())
	}
	return state, true
}

func (e *Engine) localize(frames map[int]*detection.Frame) (detection.FusionState, string) {
	if len(frames) < 2 {
		return detection.FusionState{}, metrics.TickSkipped
	}

	anyPresent := false
	for _, f := range frames {
		if f.Present {
			anyPresent = true
			break
		}
	}
	if !anyPresent {
		// Keep the last track; only presence and confidence change.
		prev := e.store.FusionState()
		prev.Present = false
		prev.Confidence = 0
		return prev, metrics.TickSilent
	}

	p := newProblem(frames, e.cfg.NodePositions, e.cfg.DirectionWeight)
	best, bestCost := p.gridSearch(e.cfg.Bounds, e.cfg.GridStep)
	refined := p.refine(best, e.cfg.GridStep)

	now := e.now()
	dt := max(now.Sub(e.store.FusionState().Timestamp), minDT).Seconds()
	rawVelocity := r3.Scale(1/dt, r3.Sub(refined, e.lastPosition))
	position := r3.Add(r3.Scale(e.cfg.Alpha, refined), r3.Scale(1-e.cfg.Alpha, e.lastPosition))
	velocity := r3.Add(r3.Scale(e.cfg.Beta, rawVelocity), r3.Scale(1-e.cfg.Beta, e.lastVelocity))
	e.lastPosition = position
	e.lastVelocity = velocity

	details := make([]detection.NodeDetail, 0, len(p.obs))
	for _, o := range p.obs {
		details = append(details, detection.NodeDetail{
			ID:     o.id,
			Energy: o.energy,
			Dir:    frames[o.id].DirLocal,
			Online: true,
		})
	}

	e.log.Debug("source localized",
		logger.Float64("x", position.X),
		logger.Float64("y", position.Y),
		logger.Float64("z", position.Z),
		logger.Float64("cost", bestCost))

	return detection.FusionState{
		Timestamp:   now,
		Present:     true,
		Position:    [3]float64{position.X, position.Y, position.Z},
		Velocity:    [3]float64{velocity.X, velocity.Y, velocity.Z},
		Confidence:  max(0, 1-bestCost),
		Error:       bestCost,
		NodeDetails: details,
	}, metrics.TickLocated
}
