package node

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/sampler"
)

// Defaults for the offline tools.
const (
	DefaultCalibrationDuration = 60 * time.Second
	DefaultCaptureDuration     = 10 * time.Second
)

// CollectSamples reads exactly fs × duration samples per channel in
// blockSamples chunks. Cancelling ctx stops between reads.
func CollectSamples(ctx context.Context, src sampler.Sampler, duration time.Duration, blockSamples int) ([][]float64, error) {
	total := int(src.SampleRate() * duration.Seconds())
	if total <= 0 || blockSamples <= 0 {
		return nil, errors.Newf("nothing to collect: %d samples in blocks of %d", total, blockSamples).
			Component("node").
			Category(errors.CategoryValidation).
			Build()
	}

	out := make([][]float64, src.Channels())
	for c := range out {
		out[c] = make([]float64, 0, total)
	}
	for len(out[0]) < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := src.ReadBlock(min(blockSamples, total-len(out[0])))
		if err != nil {
			return nil, errors.New(err).
				Component("node").
				Category(errors.CategorySampler).
				Build()
		}
		for c := range out {
			out[c] = append(out[c], block[c]...)
		}
	}
	return out, nil
}

// ChannelRMS is the root mean square of each channel.
func ChannelRMS(samples [][]float64) []float64 {
	out := make([]float64, len(samples))
	for c, ch := range samples {
		if len(ch) == 0 {
			continue
		}
		var sumSq float64
		for _, x := range ch {
			sumSq += x * x
		}
		out[c] = math.Sqrt(sumSq / float64(len(ch)))
	}
	return out
}

// Calibrate measures the ambient noise floor of every channel and stores it
// as calibration_noise_rms in configPath. The source must be quiet.
func Calibrate(ctx context.Context, src sampler.Sampler, settings *conf.NodeSettings, configPath string, duration time.Duration) ([]float64, error) {
	if duration <= 0 {
		duration = DefaultCalibrationDuration
	}
	log := GetLogger()
	log.Info("collecting calibration samples",
		logger.Int("node_id", settings.NodeID),
		logger.Duration("duration", duration))

	samples, err := CollectSamples(ctx, src, duration, settings.Sampling.BlockSamples)
	if err != nil {
		return nil, err
	}
	noise := ChannelRMS(samples)

	if err := conf.SaveCalibration(configPath, noise); err != nil {
		return nil, errors.New(err).
			Component("node").
			Category(errors.CategoryCalibration).
			Context("config_path", configPath).
			Build()
	}
	log.Info("calibration saved",
		logger.String("config_path", configPath),
		logger.Any("noise_rms", noise))
	return noise, nil
}

// Capture records duration of raw samples into a 16-bit multichannel WAV
// file. fullScale is the voltage mapped to the largest sample value; louder
// input is clipped.
func Capture(ctx context.Context, src sampler.Sampler, blockSamples int, duration time.Duration, fullScale float64, path string) error {
	if duration <= 0 {
		duration = DefaultCaptureDuration
	}
	if fullScale <= 0 {
		return errors.Newf("full scale must be positive, got %g", fullScale).
			Component("node").
			Category(errors.CategoryValidation).
			Build()
	}

	samples, err := CollectSamples(ctx, src, duration, blockSamples)
	if err != nil {
		return err
	}

	if err := WriteWAV(path, samples, int(src.SampleRate()), fullScale); err != nil {
		return err
	}
	GetLogger().Info("capture saved",
		logger.String("path", path),
		logger.Int("channels", len(samples)),
		logger.Int("samples", len(samples[0])))
	return nil
}

// WriteWAV interleaves channel-major samples and writes them as 16-bit PCM.
func WriteWAV(path string, samples [][]float64, sampleRate int, fullScale float64) error {
	channels := len(samples)
	if channels == 0 {
		return errors.Newf("no channels to write").
			Component("node").
			Category(errors.CategoryValidation).
			Build()
	}

	outFile, err := os.Create(path) //nolint:gosec // path chosen by the operator
	if err != nil {
		return errors.New(err).
			Component("node").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer outFile.Close()

	n := len(samples[0])
	data := make([]int, 0, n*channels)
	for i := range n {
		for c := range channels {
			v := max(-1, min(1, samples[c][i]/fullScale))
			data = append(data, int(math.Round(v*math.MaxInt16)))
		}
	}

	enc := wav.NewEncoder(outFile, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).
			Component("node").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return enc.Close()
}
