package dsp

import (
	"github.com/tphakala/dronenet-go/internal/errors"
)

var (
	// ErrEmptyWindow is returned when a frame is due but the window holds no
	// samples. Hop and window sizes make this unreachable in a correct setup.
	ErrEmptyWindow = errors.Newf("insufficient samples for frame computation").
		Component("dsp").
		Category(errors.CategorySignal).
		Build()
)

func errChannelMismatch(want, got int) error {
	return errors.Newf("block has %d channels, buffer expects %d", got, want).
		Component("dsp").
		Category(errors.CategorySignal).
		Context("operation", "ring_append").
		Build()
}

func errRaggedBlock(channel, want, got int) error {
	return errors.Newf("channel %d has %d samples, channel 0 has %d", channel, got, want).
		Component("dsp").
		Category(errors.CategorySignal).
		Context("operation", "ring_append").
		Build()
}
