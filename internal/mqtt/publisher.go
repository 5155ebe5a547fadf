package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/dronenet-go/internal/detection"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

const publisherStopTimeout = 2 * time.Second

// StateTopic returns the topic fusion states are published to.
func StateTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/state"
}

// Publisher forwards fusion states to the broker from its own goroutine.
// Only the newest pending state is kept; the engine never waits on the network.
type Publisher struct {
	client Client
	topic  string
	queue  chan detection.FusionState
	log    logger.Logger

	failing bool // touched only by the publish goroutine

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewPublisher creates a publisher for <prefix>/state.
func NewPublisher(client Client, prefix string) *Publisher {
	return &Publisher{
		client: client,
		topic:  StateTopic(prefix),
		queue:  make(chan detection.FusionState, 1),
		log:    GetLogger(),
	}
}

// Observe queues s, replacing any state not yet published. It matches the
// engine's update callback signature.
func (p *Publisher) Observe(s detection.FusionState) {
	for {
		select {
		case p.queue <- s:
			return
		default:
		}
		select {
		case <-p.queue:
		default:
		}
	}
}

// Start launches the publish goroutine.
func (p *Publisher) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true
	go p.run(ctx, p.stop, p.done)
}

func (p *Publisher) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case s := <-p.queue:
			p.publish(ctx, s)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, s detection.FusionState) {
	payload, err := json.Marshal(s)
	if err != nil {
		p.log.Error("failed to marshal fusion state", logger.Error(err))
		return
	}

	if !p.client.IsConnected() {
		// Covers a broker that was down at startup; the client rate-limits attempts.
		if err := p.client.Connect(ctx); err != nil {
			p.markFailing(err)
			return
		}
	}

	if err := p.client.Publish(ctx, p.topic, payload); err != nil {
		p.markFailing(err)
		return
	}
	if p.failing {
		p.log.Info("fusion state publish recovered", logger.String("topic", p.topic))
		p.failing = false
	}
}

func (p *Publisher) markFailing(err error) {
	if !p.failing {
		p.log.Warn("fusion state publish failing", logger.String("topic", p.topic), logger.Error(err))
		p.failing = true
	}
}

// Stop ends the publish goroutine and waits for it.
func (p *Publisher) Stop() error {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.runMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(publisherStopTimeout):
		return errors.Newf("mqtt publisher did not stop within %s", publisherStopTimeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
}
