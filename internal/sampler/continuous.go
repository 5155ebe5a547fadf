package sampler

import (
	"sync"
	"time"

	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

// ContinuousStopTimeout bounds how long Stop waits for the sampling goroutine.
const ContinuousStopTimeout = 2 * time.Second

// Continuous reads fixed-size blocks on its own goroutine, pacing itself to
// the sample rate, and queues them for the main loop to drain with PopBlocks.
type Continuous struct {
	src       Sampler
	blockSize int

	mu     sync.Mutex
	queue  [][][]float64
	err    error
	stop   chan struct{}
	done   chan struct{}
	active bool
}

// NewContinuous wraps src. Call Start to begin sampling.
func NewContinuous(src Sampler, blockSize int) *Continuous {
	return &Continuous{src: src, blockSize: blockSize}
}

// Start launches the sampling goroutine.
func (c *Continuous) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.active = true
	go c.run(c.stop, c.done)
}

func (c *Continuous) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	period := time.Duration(float64(c.blockSize) / c.src.SampleRate() * float64(time.Second))
	timer := time.NewTimer(period)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		block, err := c.src.ReadBlock(c.blockSize)
		c.mu.Lock()
		if err != nil {
			c.err = err
		} else {
			c.queue = append(c.queue, block)
		}
		c.mu.Unlock()
		if err != nil {
			GetLogger().Error("continuous sampling failed", logger.Error(err))
			return
		}

		if wait := period - time.Since(start); wait > 0 {
			timer.Reset(wait)
			select {
			case <-stop:
				return
			case <-timer.C:
			}
		}
	}
}

// PopBlocks returns every queued block in arrival order and empties the
// queue. Once sampling has failed, the error is returned after the
// remaining blocks have been drained.
func (c *Continuous) PopBlocks() ([][][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks := c.queue
	c.queue = nil
	if len(blocks) == 0 && c.err != nil {
		return nil, c.err
	}
	return blocks, nil
}

// Stop signals the goroutine and waits up to ContinuousStopTimeout.
func (c *Continuous) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(ContinuousStopTimeout):
		return errors.Newf("continuous sampler did not stop within %s", ContinuousStopTimeout).
			Component("sampler").
			Category(errors.CategoryTimeout).
			Build()
	}
}
