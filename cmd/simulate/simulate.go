// Package simulate implements the simulate command and its subcommands.
package simulate

import (
	"context"
	"net"

	"github.com/spf13/cobra"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/runtime"
	"github.com/tphakala/dronenet-go/internal/simulate"
)

// Command creates the simulate command.
func Command(rt *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the drone and node simulators",
		Long: "Fly a simulated drone for nodes running the synthetic source, " +
			"or stream synthetic node packets straight to a fusion server.",
	}
	cmd.AddCommand(positionCommand(rt), packetsCommand(rt))
	return cmd
}

func addPathFlags(cmd *cobra.Command, p *simulate.Path) {
	cmd.Flags().StringVar(&p.Pattern, "pattern", p.Pattern, "Flight pattern: circle, line, hover, figure8 or diagonal")
	cmd.Flags().Float64Var(&p.Speed, "speed", p.Speed, "Speed in m/s")
	cmd.Flags().Float64Var(&p.Height, "height", p.Height, "Flight height in m")
	cmd.Flags().Float64Var(&p.Radius, "radius", p.Radius, "Pattern radius in m")
}

func consoleLogging() logger.LoggingConfig {
	return logger.LoggingConfig{
		DefaultLevel: string(logger.LogLevelInfo),
		Timezone:     "Local",
		Console:      &logger.ConsoleOutput{Enabled: true, Level: string(logger.LogLevelInfo)},
	}
}

func positionCommand(rt *runtime.Context) *cobra.Command {
	path := simulate.DefaultPath()
	rate := simulate.DefaultPositionRate
	stateFile := conf.DefaultDroneStateFile

	cmd := &cobra.Command{
		Use:   "position",
		Short: "Write the simulated drone position for synthetic nodes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			cleanup, err := rt.Setup(consoleLogging(), debug, nil, "simulator")
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()
			return simulate.FlyPath(ctx, path, rate, stateFile)
		},
	}
	addPathFlags(cmd, &path)
	cmd.Flags().Float64Var(&rate, "rate", rate, "Position updates per second")
	cmd.Flags().StringVar(&stateFile, "state-file", stateFile, "Shared drone state file")
	return cmd
}

func packetsCommand(rt *runtime.Context) *cobra.Command {
	path := simulate.DefaultPath()
	rate := simulate.DefaultPacketRate
	power := simulate.DefaultSourcePower

	cmd := &cobra.Command{
		Use:   "packets",
		Short: "Send synthetic frames for every configured node to the fusion server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			settings, err := conf.LoadServer(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runPackets(cmd.Context(), rt, settings, path, rate, power)
		},
	}
	addPathFlags(cmd, &path)
	cmd.Flags().Float64Var(&rate, "rate", rate, "Frames per node per second")
	cmd.Flags().Float64Var(&power, "source-power", power, "Source power at 1 m")
	return cmd
}

func runPackets(parent context.Context, rt *runtime.Context, settings *conf.ServerSettings, path simulate.Path, rate, power float64) error {
	cleanup, err := rt.Setup(settings.Logging, settings.Debug, nil, "simulator")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	positions := settings.NodePositions()
	if len(positions) == 0 {
		return errors.Newf("no node positions configured").
			Component("simulate").
			Category(errors.CategoryConfiguration).
			Build()
	}

	conn, err := net.Dial("udp", settings.Listen.Address())
	if err != nil {
		return errors.New(err).
			Component("simulate").
			Category(errors.CategoryNetwork).
			Context("address", settings.Listen.Address()).
			Build()
	}
	defer func() { _ = conn.Close() }()

	synth := simulate.NewSynthesizer(positions, power, nil)
	return simulate.StreamPackets(ctx, synth, path, rate, conn)
}
