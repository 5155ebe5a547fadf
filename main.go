package main

import (
	"os"

	"github.com/tphakala/dronenet-go/cmd"
	"github.com/tphakala/dronenet-go/internal/runtime"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	rootCmd := cmd.RootCommand(runtime.NewContext(version, buildDate))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
