// Package runtime holds process-level setup shared by every command: build
// metadata, the global logger, error telemetry and signal handling.
package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/telemetry"
)

// UnknownValue stands in for build metadata that was not injected.
const UnknownValue = "unknown"

// Context contains runtime metadata that is not user-configurable.
// It is injected at startup through ldflags.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// NewContext returns build metadata with empty values replaced by UnknownValue.
func NewContext(version, buildDate string) *Context {
	if version == "" {
		version = UnknownValue
	}
	if buildDate == "" {
		buildDate = UnknownValue
	}
	return &Context{Version: version, BuildDate: buildDate}
}

// Setup installs the global logger and, when enabled, Sentry. debug raises
// every output to debug level. The returned function flushes
// both and must run before the process exits.
func (c *Context) Setup(logging logger.LoggingConfig, debug bool, sentry *conf.SentrySettings, role string) (func(), error) {
	cfg := logging
	if debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = string(logger.LogLevelDebug)
			cfg.Console = &console
		}
		if cfg.FileOutput != nil {
			file := *cfg.FileOutput
			file.Level = string(logger.LogLevelDebug)
			cfg.FileOutput = &file
		}
	}

	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(cl)

	log := GetLogger()
	if err := telemetry.InitSentry(sentry, c.Version, role); err != nil {
		log.Warn("error reporting disabled", logger.Error(err))
	}

	log.Info("starting",
		logger.String("role", role),
		logger.String("version", c.Version),
		logger.String("build_date", c.BuildDate))

	return func() {
		telemetry.Flush(telemetry.DefaultFlushTimeout)
		if err := cl.Close(); err != nil {
			log.Warn("failed to close log file", logger.Error(err))
		}
	}, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
