package logger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cl := NewWriterLogger(&buf, LogLevelDebug)
	log := cl.Module("receiver").Module("udp")

	log.Info("packet accepted",
		String("remote", "10.0.0.2:5005"),
		Int("node_id", 2),
		Float64("energy", 0.123456),
		Bool("heartbeat", false),
		Duration("latency", 1500*time.Microsecond))

	out := buf.String()
	assert.Contains(t, out, "module=receiver.udp")
	assert.Contains(t, out, "node_id=2")
	assert.Contains(t, out, "energy=0.123")
	assert.Contains(t, out, "heartbeat=false")
	assert.Contains(t, out, "latency=2ms")
	assert.NotContains(t, out, "time=")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriterLogger(&buf, LogLevelWarn).Module("engine")

	log.Debug("hidden")
	log.Info("hidden")
	log.Log(LogLevelInfo, "hidden")
	log.Warn("shown")
	log.Error("also shown", Error(errors.New("boom")))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "error=boom")
}

func TestTraceLevelLabel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWriterLogger(&buf, LogLevelTrace).Module("dsp").Trace("frame")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestWithAndContextFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LogLevelInfo).Module("api")
	child := base.With(String("client", "abc"))
	child.WithContext(WithTraceID(context.Background(), "t-1")).Info("connected")
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "client=abc")
	assert.Contains(t, lines[0], "trace_id=t-1")
	assert.NotContains(t, lines[1], "client=abc")
}

func TestModuleLevelOverride(t *testing.T) {
	t.Parallel()

	cfg := &LoggingConfig{
		DefaultLevel: "warn",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: filepath.Join(t.TempDir(), "logs", "app.log"), Level: "debug"},
		ModuleLevels: map[string]string{"engine": "debug"},
	}
	cl, err := NewCentralLogger(cfg)
	require.NoError(t, err)

	cl.Module("engine").Debug("tick")
	cl.Module("receiver").Debug("dropped")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(cfg.FileOutput.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"tick"`)
	assert.NotContains(t, string(data), "dropped")
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}
