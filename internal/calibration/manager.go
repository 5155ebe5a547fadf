// Package calibration measures node noise floors from the live frame stream
// and writes them back into the node configuration files.
package calibration

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/store"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	// DefaultPollInterval is how often the store is sampled.
	DefaultPollInterval = 500 * time.Millisecond
	// StopTimeout bounds how long Stop waits for the poll loop.
	StopTimeout = time.Second
)

// Errors returned by StartJob, wrapped with context.
var (
	ErrInvalidDuration = errors.NewStd("calibration duration must be positive")
	ErrJobActive       = errors.NewStd("calibration already in progress for this node")
)

// Sink persists finished calibrations.
type Sink interface {
	SaveCalibration(ctx context.Context, result Result) error
}

// Result is a completed calibration.
type Result struct {
	JobID       string
	NodeID      int
	NoiseRMS    []float64
	SampleCount int
	Duration    time.Duration
	CompletedAt time.Time
}

// Job is the externally visible state of a calibration run.
type Job struct {
	ID          string     `json:"job_id"`
	NodeID      int        `json:"node_id"`
	Duration    float64    `json:"duration"` // seconds
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Progress    float64    `json:"progress"`
	Message     string     `json:"message"`
	SampleCount int        `json:"sample_count"`
	Result      []float64  `json:"result,omitempty"`
}

type job struct {
	Job
	duration time.Duration
	lastSeq  int64
	hasSeq   bool
	samples  [][]float64
}

func (j *job) snapshot() Job {
	out := j.Job
	out.Result = slices.Clone(j.Result)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Manager runs calibration jobs, at most one active job per node.
type Manager struct {
	store     *store.FrameStore
	configDir string
	poll      time.Duration
	sink      Sink
	now       func() time.Time
	log       logger.Logger

	mu     sync.Mutex
	byNode map[int]*job
	byID   map[string]*job

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.poll = d
		}
	}
}

// WithSink records finished calibrations.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager that reads frames from s and updates
// node-<id>.yaml files inside configDir.
func NewManager(s *store.FrameStore, configDir string, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		configDir: configDir,
		poll:      DefaultPollInterval,
		now:       time.Now,
		log:       GetLogger(),
		byNode:    make(map[int]*job),
		byID:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartJob queues a calibration of nodeID lasting duration.
func (m *Manager) StartJob(nodeID int, duration time.Duration) (Job, error) {
	if duration <= 0 {
		return Job{}, errors.New(ErrInvalidDuration).
			Component("calibration").
			Category(errors.CategoryValidation).
			Context("node_id", nodeID).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byNode[nodeID]; ok && prev.active() {
		return Job{}, errors.New(ErrJobActive).
			Component("calibration").
			Category(errors.CategoryConflict).
			Context("node_id", nodeID).
			Context("job_id", prev.ID).
			Build()
	}

	j := &job{
		Job: Job{
			ID:        uuid.NewString(),
			NodeID:    nodeID,
			Duration:  duration.Seconds(),
			Status:    StatusPending,
			StartedAt: m.now(),
			Message:   "Waiting for first poll",
		},
		duration: duration,
	}
	m.byNode[nodeID] = j
	m.byID[j.ID] = j

	m.log.Info("calibration job queued",
		logger.String("job_id", j.ID),
		logger.Int("node_id", nodeID),
		logger.Duration("duration", duration))
	return j.snapshot(), nil
}

func (j *job) active() bool {
	switch j.Status {
	case StatusPending, StatusRunning, StatusProcessing:
		return true
	default:
		return false
	}
}

// Job returns a job by id.
func (m *Manager) Job(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// NodeJob returns the latest job of a node.
func (m *Manager) NodeJob(nodeID int) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byNode[nodeID]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// Jobs returns the latest job of every node, ordered by node id.
func (m *Manager) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.byNode))
	for _, j := range m.byNode {
		out = append(out, j.snapshot())
	}
	slices.SortFunc(out, func(a, b Job) int { return a.NodeID - b.NodeID })
	return out
}

// Start launches the poll loop.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.loop(ctx, m.stop, m.done)
}

// Stop ends the poll loop and waits up to StopTimeout.
func (m *Manager) Stop() error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.runMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(StopTimeout):
		return errors.Newf("calibration manager did not stop within %s", StopTimeout).
			Component("calibration").
			Category(errors.CategoryTimeout).
			Build()
	}
}

func (m *Manager) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick samples the store for every running job and finalizes jobs whose
// duration has elapsed.
func (m *Manager) tick(ctx context.Context) {
	frames := m.store.Frames()
	now := m.now()
	var finalize []*job

	m.mu.Lock()
	for nodeID, j := range m.byNode {
		switch j.Status {
		case StatusPending:
			j.Status = StatusRunning
			j.Message = "Collecting noise samples"
		case StatusRunning:
		default:
			continue
		}

		if f, ok := frames[nodeID]; ok && (!j.hasSeq || f.Seq != j.lastSeq) {
			noise := f.NoiseRMS
			if len(noise) == 0 {
				noise = f.MicRMS
			}
			if len(noise) > 0 {
				j.samples = append(j.samples, slices.Clone(noise))
				j.SampleCount++
				j.lastSeq, j.hasSeq = f.Seq, true
			}
		}

		elapsed := now.Sub(j.StartedAt)
		j.Progress = min(elapsed.Seconds()/j.duration.Seconds(), 0.99)
		if elapsed >= j.duration {
			j.Status = StatusProcessing
			j.Message = "Computing averages..."
			finalize = append(finalize, j)
		}
	}
	m.mu.Unlock()

	for _, j := range finalize {
		m.finalize(ctx, j)
	}
}

func (m *Manager) finalize(ctx context.Context, j *job) {
	m.mu.Lock()
	samples := j.samples
	j.samples = nil
	m.mu.Unlock()

	if len(samples) == 0 {
		m.fail(j, "No samples collected from node")
		return
	}
	averages := Average(samples)

	path := conf.NodeConfigPath(m.configDir, j.NodeID)
	if _, err := os.Stat(path); err != nil {
		m.fail(j, fmt.Sprintf("Config not found: %s", path))
		return
	}
	if err := conf.SaveCalibration(path, averages); err != nil {
		m.fail(j, fmt.Sprintf("Failed to update config: %v", err))
		return
	}

	completed := m.now()
	m.mu.Lock()
	j.Status = StatusCompleted
	j.Result = averages
	j.Message = "Updated " + filepath.Base(path)
	j.Progress = 1
	j.CompletedAt = &completed
	sampleCount := j.SampleCount
	m.mu.Unlock()

	m.log.Info("calibration completed",
		logger.String("job_id", j.ID),
		logger.Int("node_id", j.NodeID),
		logger.Int("samples", sampleCount),
		logger.Any("noise_rms", averages))

	if m.sink != nil {
		err := m.sink.SaveCalibration(ctx, Result{
			JobID:       j.ID,
			NodeID:      j.NodeID,
			NoiseRMS:    averages,
			SampleCount: sampleCount,
			Duration:    j.duration,
			CompletedAt: completed,
		})
		if err != nil {
			m.log.Warn("failed to record calibration", logger.String("job_id", j.ID), logger.Error(err))
		}
	}
}

func (m *Manager) fail(j *job, message string) {
	completed := m.now()
	m.mu.Lock()
	j.Status = StatusFailed
	j.Message = message
	j.Progress = 1
	j.CompletedAt = &completed
	m.mu.Unlock()

	m.log.Warn("calibration failed",
		logger.String("job_id", j.ID),
		logger.Int("node_id", j.NodeID),
		logger.String("reason", message))
}

// Average is the per-channel mean of samples rounded to 6 decimals. Samples
// may differ in length; each channel is averaged over the samples that have it.
func Average(samples [][]float64) []float64 {
	channels := 0
	for _, s := range samples {
		channels = max(channels, len(s))
	}
	totals := make([]float64, channels)
	counts := make([]int, channels)
	for _, s := range samples {
		for i, v := range s {
			totals[i] += v
			counts[i]++
		}
	}
	out := make([]float64, channels)
	for i := range out {
		if counts[i] > 0 {
			out[i] = math.Round(totals[i]/float64(counts[i])*1e6) / 1e6
		}
	}
	return out
}
