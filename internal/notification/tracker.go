// Package notification sends alerts when the fusion engine acquires or
// loses a track.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

// Event kinds.
const (
	EventAcquired = "acquired"
	EventLost     = "lost"
)

const (
	// DefaultLostAfter is how long the source must be absent before a lost alert.
	DefaultLostAfter = 5 * time.Second

	queueSize   = 8
	stopTimeout = 2 * time.Second
)

// Event is one track transition.
type Event struct {
	Kind       string
	At         time.Time
	Position   [3]float64
	Confidence float64
}

// Title is the notification title for e.
func (e Event) Title() string {
	if e.Kind == EventAcquired {
		return "Drone detected"
	}
	return "Drone track lost"
}

// Message is the notification body for e.
func (e Event) Message() string {
	if e.Kind == EventAcquired {
		return fmt.Sprintf("Source acquired at (%.1f, %.1f, %.1f) m, confidence %.2f, %s",
			e.Position[0], e.Position[1], e.Position[2], e.Confidence, e.At.Format(time.RFC3339))
	}
	return fmt.Sprintf("Source lost, last position (%.1f, %.1f, %.1f) m, %s",
		e.Position[0], e.Position[1], e.Position[2], e.At.Format(time.RFC3339))
}

// TrackNotifier watches fusion states and sends one alert per transition.
// Observe runs on the engine goroutine; delivery happens on a worker.
type TrackNotifier struct {
	sender    Sender
	lostAfter time.Duration
	now       func() time.Time
	log       logger.Logger
	queue     chan Event

	mu           sync.Mutex
	tracking     bool
	lastPresent  time.Time
	lastPosition [3]float64

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// Option configures a TrackNotifier.
type Option func(*TrackNotifier)

// WithClock replaces time.Now for the lost timer.
func WithClock(now func() time.Time) Option {
	return func(n *TrackNotifier) { n.now = now }
}

// NewTrackNotifier creates a notifier. lostAfter <= 0 uses DefaultLostAfter.
func NewTrackNotifier(sender Sender, lostAfter time.Duration, opts ...Option) *TrackNotifier {
	if lostAfter <= 0 {
		lostAfter = DefaultLostAfter
	}
	n := &TrackNotifier{
		sender:    sender,
		lostAfter: lostAfter,
		now:       time.Now,
		log:       GetLogger(),
		queue:     make(chan Event, queueSize),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Observe feeds one fusion state. It never blocks.
func (n *TrackNotifier) Observe(s detection.FusionState) {
	now := n.now()

	n.mu.Lock()
	var ev *Event
	switch {
	case s.Present:
		if !n.tracking {
			ev = &Event{Kind: EventAcquired, At: now, Position: s.Position, Confidence: s.Confidence}
		}
		n.tracking = true
		n.lastPresent = now
		n.lastPosition = s.Position
	case n.tracking && now.Sub(n.lastPresent) >= n.lostAfter:
		n.tracking = false
		ev = &Event{Kind: EventLost, At: now, Position: n.lastPosition}
	}
	n.mu.Unlock()

	if ev == nil {
		return
	}
	select {
	case n.queue <- *ev:
	default:
		n.log.Warn("notification queue full, dropping event", logger.String("kind", ev.Kind))
	}
}

// Tracking reports whether a track is currently held.
func (n *TrackNotifier) Tracking() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tracking
}

// Start launches the delivery worker.
func (n *TrackNotifier) Start(ctx context.Context) {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.running {
		return
	}
	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	n.running = true
	go n.worker(ctx, n.stop, n.done)
}

func (n *TrackNotifier) worker(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			if err := n.sender.Send(ctx, ev.Title(), ev.Message()); err != nil {
				n.log.Error("failed to send track notification",
					logger.String("kind", ev.Kind),
					logger.Error(err))
				continue
			}
			n.log.Info("track notification sent", logger.String("kind", ev.Kind))
		}
	}
}

// Stop ends the worker. Queued events are discarded.
func (n *TrackNotifier) Stop() error {
	n.runMu.Lock()
	if !n.running {
		n.runMu.Unlock()
		return nil
	}
	n.running = false
	close(n.stop)
	done := n.done
	n.runMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		return errors.Newf("track notifier did not stop within %s", stopTimeout).
			Component("notification").
			Category(errors.CategoryTimeout).
			Build()
	}
}
