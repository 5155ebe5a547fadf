package sampler

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

const (
	bytesPerSample = 2 // S16LE

	// captureBufferSeconds sizes the queue between the device callback and ReadBlock.
	captureBufferSeconds = 2
	readPollInterval     = 5 * time.Millisecond
	readGrace            = time.Second
)

// HardwareConfig selects and scales the capture device.
type HardwareConfig struct {
	Device     string // name or decoded id; empty selects the system default
	SampleRate float64
	Channels   int
	FullScale  float64 // volts at int16 full scale
}

// Hardware captures interleaved S16 frames from a sound device through
// miniaudio. The device callback writes into a byte ring buffer and
// ReadBlock drains it, converting to volts.
type Hardware struct {
	cfg     HardwareConfig
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	name    string
	buffer  *ringbuffer.RingBuffer
	dropped atomic.Uint64
	closed  atomic.Bool
}

// NewHardware opens and starts the capture device.
func NewHardware(cfg HardwareConfig) (*Hardware, error) {
	if cfg.FullScale == 0 {
		cfg.FullScale = 1
	}
	backend, err := captureBackend()
	if err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, hardwareError(err, "init_context")
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, hardwareError(err, "enumerate_devices")
	}
	info := selectDevice(infos, cfg.Device)
	if info == nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, errors.Newf("capture device %q not found", cfg.Device).
			Component("sampler").
			Category(errors.CategorySampler).
			Context("devices", len(infos)).
			Build()
	}

	h := &Hardware{
		cfg:    cfg,
		ctx:    mctx,
		name:   info.Name(),
		buffer: ringbuffer.New(int(cfg.SampleRate) * cfg.Channels * bytesPerSample * captureBufferSeconds),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels) //nolint:gosec // 3 or 4
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: h.onData,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, hardwareError(err, "init_device")
	}
	h.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, hardwareError(err, "start_device")
	}
	return h, nil
}

func captureBackend() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system %s", runtime.GOOS).
			Component("sampler").
			Category(errors.CategorySampler).
			Build()
	}
}

func selectDevice(infos []malgo.DeviceInfo, name string) *malgo.DeviceInfo {
	if name == "" || name == "default" {
		for i := range infos {
			if infos[i].IsDefault == 1 {
				return &infos[i]
			}
		}
		if len(infos) > 0 {
			return &infos[0]
		}
		return nil
	}
	for i := range infos {
		if infos[i].Name() == name || infos[i].ID.String() == name {
			return &infos[i]
		}
	}
	return nil
}

func hardwareError(err error, operation string) error {
	return errors.New(err).
		Component("sampler").
		Category(errors.CategorySampler).
		Context("operation", operation).
		Context("backend", runtime.GOOS).
		Build()
}

// onData runs on the audio thread; it never blocks.
func (h *Hardware) onData(_, input []byte, _ uint32) {
	n, err := h.buffer.Write(input)
	if err != nil && n < len(input) {
		h.dropped.Add(uint64(len(input) - n)) //nolint:gosec // positive
	}
}

// ReadBlock waits until n frames are buffered and converts them to volts.
func (h *Hardware) ReadBlock(n int) ([][]float64, error) {
	if h.closed.Load() {
		return nil, errors.Newf("capture device closed").
			Component("sampler").
			Category(errors.CategoryState).
			Build()
	}
	need := n * h.cfg.Channels * bytesPerSample
	deadline := time.Now().Add(time.Duration(float64(n)/h.cfg.SampleRate*float64(time.Second)) + readGrace)
	for h.buffer.Length() < need {
		if time.Now().After(deadline) {
			return nil, errors.Newf("capture timed out waiting for %d frames", n).
				Component("sampler").
				Category(errors.CategoryTimeout).
				Context("buffered_bytes", h.buffer.Length()).
				Build()
		}
		time.Sleep(readPollInterval)
	}

	raw := make([]byte, need)
	read := 0
	for read < need {
		m, err := h.buffer.Read(raw[read:])
		if err != nil && m == 0 {
			return nil, hardwareError(err, "read_buffer")
		}
		read += m
	}

	if d := h.dropped.Swap(0); d > 0 {
		GetLogger().Warn("capture buffer overflow, samples dropped", logger.Uint64("bytes", d))
	}
	return deinterleaveS16(raw, h.cfg.Channels, h.cfg.FullScale), nil
}

// deinterleaveS16 splits little-endian interleaved int16 frames into
// per-channel voltages, full scale mapping to fullScale volts.
func deinterleaveS16(raw []byte, channels int, fullScale float64) [][]float64 {
	frames := len(raw) / (channels * bytesPerSample)
	block := newBlock(channels, frames)
	scale := fullScale / 32768.0
	for i := range frames {
		for c := range channels {
			off := (i*channels + c) * bytesPerSample
			block[c][i] = float64(int16(binary.LittleEndian.Uint16(raw[off:]))) * scale //nolint:gosec // reinterpret
		}
	}
	return block
}

// DeviceName returns the name of the opened device.
func (h *Hardware) DeviceName() string { return h.name }

// Channels implements Sampler.
func (h *Hardware) Channels() int { return h.cfg.Channels }

// SampleRate implements Sampler.
func (h *Hardware) SampleRate() float64 { return h.cfg.SampleRate }

// Close stops the device and releases the context.
func (h *Hardware) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.device != nil {
		_ = h.device.Stop()
		h.device.Uninit()
	}
	if h.ctx != nil {
		err := h.ctx.Uninit()
		h.ctx.Free()
		return err
	}
	return nil
}
