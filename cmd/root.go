package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/dronenet-go/cmd/calibrate"
	"github.com/tphakala/dronenet-go/cmd/capture"
	"github.com/tphakala/dronenet-go/cmd/node"
	"github.com/tphakala/dronenet-go/cmd/server"
	"github.com/tphakala/dronenet-go/cmd/simulate"
	"github.com/tphakala/dronenet-go/internal/runtime"
)

// RootCommand creates and returns the root command
func RootCommand(rt *runtime.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dronenet",
		Short:        "Acoustic drone localization",
		Long:         "Sensor node agent, fusion server and bench tools for locating a drone from a network of microphone arrays.",
		Version:      rt.Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		node.Command(rt),
		calibrate.Command(rt),
		capture.Command(rt),
		server.Command(rt),
		simulate.Command(rt),
	)
	return rootCmd
}
