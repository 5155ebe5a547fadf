// Package calibrate implements the calibrate command.
package calibrate

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/node"
	"github.com/tphakala/dronenet-go/internal/runtime"
	"github.com/tphakala/dronenet-go/internal/sampler"
)

// Command creates the command that measures a node's noise floor.
func Command(rt *runtime.Context) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure the ambient noise floor of a node",
		Long: "Record the quiet environment for the given duration and store the per-channel RMS " +
			"as calibration_noise_rms in the node configuration file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				return fmt.Errorf("--config is required: calibration is written back to the node configuration")
			}
			settings, err := conf.LoadNode(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), rt, settings, configPath, duration)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", node.DefaultCalibrationDuration, "How long to sample")
	return cmd
}

func run(parent context.Context, rt *runtime.Context, settings *conf.NodeSettings, configPath string, duration time.Duration) error {
	cleanup, err := rt.Setup(settings.Logging, settings.Debug, &settings.Sentry, "node")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	src, err := sampler.New(settings)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	noise, err := node.Calibrate(ctx, src, settings, configPath, duration)
	if err != nil {
		return err
	}
	fmt.Printf("calibration_noise_rms: %v\n", noise)
	return nil
}
