package datastore

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

const (
	recorderQueueSize   = 64
	recorderStopTimeout = 2 * time.Second
)

// Recorder persists present fusion states, at most one per interval of
// state time. Observe never blocks; states are dropped when the writer lags.
type Recorder struct {
	store    Interface
	interval time.Duration
	queue    chan TrackPoint
	log      logger.Logger

	mu      sync.Mutex
	last    time.Time
	dropped int64

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewRecorder creates a recorder writing into store.
func NewRecorder(store Interface, interval time.Duration) *Recorder {
	return &Recorder{
		store:    store,
		interval: interval,
		queue:    make(chan TrackPoint, recorderQueueSize),
		log:      GetLogger(),
	}
}

// Observe queues s if it is present and due. It matches the engine's
// update callback signature.
func (r *Recorder) Observe(s detection.FusionState) {
	if !s.Present {
		return
	}

	r.mu.Lock()
	if !r.last.IsZero() && s.Timestamp.Sub(r.last) < r.interval {
		r.mu.Unlock()
		return
	}
	r.last = s.Timestamp
	r.mu.Unlock()

	p := TrackPoint{
		Timestamp:  s.Timestamp,
		X:          s.Position[0],
		Y:          s.Position[1],
		Z:          s.Position[2],
		VX:         s.Velocity[0],
		VY:         s.Velocity[1],
		VZ:         s.Velocity[2],
		Confidence: s.Confidence,
		Error:      s.Error,
		Nodes:      len(s.NodeDetails),
	}
	select {
	case r.queue <- p:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		r.log.Warn("track point dropped, writer is behind", logger.Int64("dropped_total", dropped))
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true
	go r.run(ctx, r.stop, r.done)
}

func (r *Recorder) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			r.drain(ctx)
			return
		case <-ctx.Done():
			return
		case p := <-r.queue:
			r.write(ctx, &p)
		}
	}
}

// drain writes whatever is still queued.
func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case p := <-r.queue:
			r.write(ctx, &p)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, p *TrackPoint) {
	if err := r.store.SaveTrackPoint(ctx, p); err != nil {
		r.log.Error("failed to save track point", logger.Error(err))
	}
}

// Stop flushes the queue and waits for the writer.
func (r *Recorder) Stop() error {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.runMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(recorderStopTimeout):
		return errors.Newf("track recorder did not stop within %s", recorderStopTimeout).
			Component("datastore").
			Category(errors.CategoryTimeout).
			Build()
	}
}
