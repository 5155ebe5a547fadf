package dsp

import (
	"math"
	"time"

	"github.com/tphakala/dronenet-go/internal/detection"
)

const (
	// epsilon guards divisions by near-zero energy
	epsilon = 1e-6

	// Detection enters above hiFactor × noise and exits below loFactor × noise.
	hiFactor = 3.5
	loFactor = 3.0
)

// Narrowband targets, evaluated on channel 0 only.
var bandFrequencies = [2]float64{120, 240}

// ExtractorConfig describes the node's framing and array geometry.
type ExtractorConfig struct {
	NodeID        int
	SampleRate    float64
	HopSamples    int
	WindowSamples int
	MicVectors    [][3]float64
	// Calibration seeds the noise floor; ignored unless it has one value per channel.
	Calibration []float64
	NoiseAlpha  float64
	SupplyV     float64
	TempC       float64
}

// Extractor turns a stream of sample blocks into per-hop Frames and runs the
// node's presence detector. It is used from a single goroutine.
type Extractor struct {
	cfg         ExtractorConfig
	channels    int
	buffer      *RingBuffer
	noise       *NoiseTracker
	direction   *DirectionEstimator
	pending     int
	lastPresent bool
	seq         int64
	now         func() time.Time
}

// NewExtractor builds an extractor. The window never shrinks below one hop.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	channels := len(cfg.MicVectors)
	if cfg.WindowSamples < cfg.HopSamples {
		cfg.WindowSamples = cfg.HopSamples
	}
	if cfg.NoiseAlpha == 0 {
		cfg.NoiseAlpha = DefaultNoiseAlpha
	}
	return &Extractor{
		cfg:       cfg,
		channels:  channels,
		buffer:    NewRingBuffer(channels, cfg.WindowSamples),
		noise:     NewNoiseTracker(channels, cfg.Calibration, cfg.NoiseAlpha),
		direction: NewDirectionEstimator(cfg.MicVectors),
		now:       time.Now,
	}
}

// SetTelemetry updates the supply voltage and temperature stamped on later frames.
func (e *Extractor) SetTelemetry(supplyV, tempC float64) {
	e.cfg.SupplyV = supplyV
	e.cfg.TempC = tempC
}

// Channels returns the number of input channels.
func (e *Extractor) Channels() int {
	return e.channels
}

// NoiseLevels returns the current noise floor.
func (e *Extractor) NoiseLevels() []float64 {
	return e.noise.Levels()
}

// Push appends a block and returns one Frame per whole hop now pending.
// Every frame is computed over the full current window.
func (e *Extractor) Push(block [][]float64) ([]*detection.Frame, error) {
	if err := e.buffer.Append(block); err != nil {
		return nil, err
	}
	if len(block) > 0 {
		e.pending += len(block[0])
	}

	var frames []*detection.Frame
	for e.cfg.HopSamples > 0 && e.pending >= e.cfg.HopSamples {
		f, err := e.emit()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		e.pending -= e.cfg.HopSamples
	}
	return frames, nil
}

func (e *Extractor) emit() (*detection.Frame, error) {
	window := e.buffer.View()
	if len(window) == 0 || len(window[0]) == 0 {
		return nil, ErrEmptyWindow
	}

	rms := make([]float64, e.channels)
	crest := make([]float64, e.channels)
	var total float64
	for c, samples := range window {
		var sumSq, peak float64
		for _, x := range samples {
			sumSq += x * x
			peak = max(peak, math.Abs(x))
		}
		rms[c] = math.Sqrt(sumSq / float64(len(samples)))
		crest[c] = peak / (rms[c] + epsilon)
		total += rms[c]
	}

	var band [2]float64
	for i, f := range bandFrequencies {
		band[i] = Goertzel(window[0], f, e.cfg.SampleRate)
	}

	// Excess energy is measured against the floor as it was before this frame.
	floor := e.noise.Levels()
	weights := make([]float64, e.channels)
	for c := range weights {
		weights[c] = max(rms[c]-floor[c], 0)
	}

	noiseSum := e.noise.Sum() + epsilon
	present := total > hiFactor*noiseSum || (e.lastPresent && total > loFactor*noiseSum)
	e.noise.Update(rms, present)
	e.lastPresent = present

	dir, conf := e.direction.Estimate(weights)

	e.seq++
	return &detection.Frame{
		NodeID:      e.cfg.NodeID,
		Seq:         e.seq,
		Timestamp:   e.now(),
		Present:     present,
		MicRMS:      rms,
		NoiseRMS:    e.noise.Levels(),
		Crest:       crest,
		Bandpower:   band,
		DirLocal:    dir,
		DirConf:     conf,
		TotalEnergy: total,
		SupplyV:     e.cfg.SupplyV,
		TempC:       e.cfg.TempC,
	}, nil
}

// Heartbeat builds a keep-alive frame carrying the next sequence number and
// the current noise floor, with every feature zeroed.
func (e *Extractor) Heartbeat() *detection.Frame {
	e.seq++
	return &detection.Frame{
		NodeID:    e.cfg.NodeID,
		Seq:       e.seq,
		Timestamp: e.now(),
		MicRMS:    make([]float64, e.channels),
		NoiseRMS:  e.noise.Levels(),
		Crest:     make([]float64, e.channels),
		SupplyV:   e.cfg.SupplyV,
		TempC:     e.cfg.TempC,
		Heartbeat: true,
	}
}
