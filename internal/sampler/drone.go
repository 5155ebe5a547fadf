package sampler

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

// Rotor signature: harmonics of ~150 Hz with falling amplitude.
var (
	droneHarmonics  = [...]float64{150, 300, 450, 600, 750}
	droneAmplitudes = [...]float64{1.0, 0.6, 0.4, 0.25, 0.15}
)

const (
	droneSourceLevel  = 200.0 // amplitude at 1 m
	droneMinDistance  = 0.5
	droneFMDepth      = 0.03
	droneBroadbandStd = 0.1
	droneBroadbandMix = 0.3
	droneSmoothing    = 5 // moving-average length of the broadband noise

	stateReadInterval = 50 * time.Millisecond
)

// DefaultDronePosition is assumed when the state file omits a position.
var DefaultDronePosition = [3]float64{10, 10, 5}

// DroneConfig places the simulated array in the world.
type DroneConfig struct {
	SampleRate   float64
	NodePosition [3]float64
	MicVectors   [][3]float64 // also used as mic offsets from the node centre
	StateFile    string
	NoiseLevel   float64
}

// DroneSim synthesizes what each microphone would hear from a drone whose
// position is published in a shared state file.
type DroneSim struct {
	cfg    DroneConfig
	mics   []r3.Vec // absolute mic positions
	dirs   []r3.Vec // unit pointing directions, zero for omni
	phases [][len(droneHarmonics)]float64
	rng    *rand.Rand
	now    func() time.Time

	mu         sync.Mutex
	cached     *r3.Vec
	lastReadAt time.Time
}

// NewDroneSim creates a drone simulator.
func NewDroneSim(cfg DroneConfig) *DroneSim {
	node := r3.Vec{X: cfg.NodePosition[0], Y: cfg.NodePosition[1], Z: cfg.NodePosition[2]}
	d := &DroneSim{
		cfg:    cfg,
		mics:   make([]r3.Vec, len(cfg.MicVectors)),
		dirs:   make([]r3.Vec, len(cfg.MicVectors)),
		phases: make([][len(droneHarmonics)]float64, len(cfg.MicVectors)),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // test signal
		now:    time.Now,
	}
	for i, v := range cfg.MicVectors {
		offset := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		d.mics[i] = r3.Add(node, offset)
		if n := r3.Norm(offset); n > 0.01 {
			d.dirs[i] = r3.Scale(1/n, offset)
		}
	}
	return d
}

// dronePosition returns the drone position, re-reading the state file at
// most every stateReadInterval. A missing, empty or half-written file means
// no drone.
func (d *DroneSim) dronePosition() (r3.Vec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.cached != nil && now.Sub(d.lastReadAt) < stateReadInterval {
		return *d.cached, true
	}

	pos, err := ReadDroneState(d.cfg.StateFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errEmptyState) {
			GetLogger().Debug("drone state unreadable", logger.Error(err))
		}
		return r3.Vec{}, false
	}
	v := r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}
	d.cached = &v
	d.lastReadAt = now
	return v, true
}

// ReadBlock implements Sampler.
func (d *DroneSim) ReadBlock(n int) ([][]float64, error) {
	block := newBlock(len(d.mics), n)
	drone, ok := d.dronePosition()
	t := float64(d.now().UnixNano()) / 1e9

	for c := range block {
		if ok {
			d.droneSignal(block[c], c, drone, t)
		}
		for i := range block[c] {
			block[c][i] += d.rng.NormFloat64() * d.cfg.NoiseLevel
		}
	}
	return block, nil
}

func (d *DroneSim) droneSignal(out []float64, c int, drone r3.Vec, t float64) {
	vec := r3.Sub(drone, d.mics[c])
	dist := r3.Norm(vec)
	direction := r3.Vec{Z: 1}
	if dist > 0.01 {
		direction = r3.Scale(1/dist, vec)
	}

	eff := max(dist, droneMinDistance)
	amp := droneSourceLevel / (eff * eff)

	for h, freq := range droneHarmonics {
		f := freq * (1 + droneFMDepth*math.Sin(t*2+float64(h)))
		step := 2 * math.Pi * f / d.cfg.SampleRate
		phase := d.phases[c][h]
		for i := range out {
			out[i] += droneAmplitudes[h] * amp * math.Sin(step*float64(i)+phase)
		}
		d.phases[c][h] = math.Mod(phase+step*float64(len(out)), 2*math.Pi)
	}

	broadband := make([]float64, len(out))
	for i := range broadband {
		broadband[i] = d.rng.NormFloat64() * droneBroadbandStd
	}
	smoothed := movingAverage(broadband, droneSmoothing)
	for i := range out {
		out[i] += smoothed[i] * amp * droneBroadbandMix
	}

	gain := 1.0
	if r3.Norm(d.dirs[c]) > 0 {
		dot := max(-1, min(1, r3.Dot(d.dirs[c], direction)))
		gain = 0.5 + 0.5*dot
	}
	for i := range out {
		out[i] *= gain
	}
}

// movingAverage is a centred box filter of length k with zero padding, the
// same length as x.
func movingAverage(x []float64, k int) []float64 {
	out := make([]float64, len(x))
	half := k / 2
	for i := range x {
		var sum float64
		for j := i - half; j < i-half+k; j++ {
			if j >= 0 && j < len(x) {
				sum += x[j]
			}
		}
		out[i] = sum / float64(k)
	}
	return out
}

// Channels implements Sampler.
func (d *DroneSim) Channels() int { return len(d.mics) }

// SampleRate implements Sampler.
func (d *DroneSim) SampleRate() float64 { return d.cfg.SampleRate }

// Close implements Sampler.
func (d *DroneSim) Close() error { return nil }

var errEmptyState = errors.NewStd("drone state file is empty")

// droneState is the shared state file layout.
type droneState struct {
	Position  [3]float64 `json:"position"`
	Timestamp float64    `json:"timestamp"`
}

// ReadDroneState reads the drone position from a state file written by
// WriteDroneState. A file without a position yields DefaultDronePosition.
func ReadDroneState(path string) ([3]float64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // configured path
	if err != nil {
		return [3]float64{}, err
	}
	if len(data) == 0 {
		return [3]float64{}, errEmptyState
	}
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return [3]float64{}, errors.New(err).
			Component("sampler").
			Category(errors.CategoryFileIO).
			Context("state_file", path).
			Build()
	}
	pos, err := obj.GetFloat64Array("position")
	if err != nil || len(pos) != 3 {
		return DefaultDronePosition, nil
	}
	return [3]float64{pos[0], pos[1], pos[2]}, nil
}

// WriteDroneState publishes a drone position. The file is replaced with a
// rename so readers never see a partial write.
func WriteDroneState(path string, position [3]float64, at time.Time) error {
	data, err := json.Marshal(droneState{
		Position:  position,
		Timestamp: float64(at.UnixNano()) / 1e9,
	})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.New(err).
			Component("sampler").
			Category(errors.CategoryFileIO).
			Context("state_file", path).
			Build()
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
