// Package capture implements the capture command.
package capture

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

// Command creates the command that records raw samples to a WAV file.
func Command(rt *runtime.Context) *cobra.Command {
	var (
		duration time.Duration
		output   string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record raw array samples to a WAV file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			settings, err := conf.LoadNode(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("capture-node%d.wav", settings.NodeID)
			}
			return run(cmd.Context(), rt, settings, duration, output)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", node.DefaultCaptureDuration, "How long to record")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default capture-node<id>.wav)")
	return cmd
}

func run(parent context.Context, rt *runtime.Context, settings *conf.NodeSettings, duration time.Duration, output string) error {
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

	return node.Capture(ctx, src, settings.Sampling.BlockSamples, duration, settings.PGAVoltage, output)
}
