// Package node implements the node command.
package node

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/logger"
	agent "github.com/tphakala/dronenet-go/internal/node"
	"github.com/tphakala/dronenet-go/internal/observability"
	"github.com/tphakala/dronenet-go/internal/runtime"
	"github.com/tphakala/dronenet-go/internal/sampler"
)

// Command creates the command that runs a sensor node.
func Command(rt *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "node",
		Short: "Run a sensor node",
		Long:  "Sample the microphone array, extract features and stream frames to the fusion server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			settings, err := conf.LoadNode(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), rt, settings)
		},
	}
}

func run(parent context.Context, rt *runtime.Context, settings *conf.NodeSettings) error {
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

	var opts []agent.Option
	if settings.Metrics.Enabled {
		m, err := observability.NewNodeMetrics()
		if err != nil {
			_ = src.Close()
			return err
		}
		opts = append(opts, agent.WithMetrics(m.Node))

		var wg sync.WaitGroup
		quit := make(chan struct{})
		observability.NewEndpoint(settings.Metrics.Listen, m).Start(&wg, quit)
		defer func() {
			close(quit)
			wg.Wait()
		}()
	}

	a, err := agent.NewAgent(settings, src, opts...)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			agent.GetLogger().Warn("failed to close node agent", logger.Error(err))
		}
	}()

	return a.Run(ctx)
}
