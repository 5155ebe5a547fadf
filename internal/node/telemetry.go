package node

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/tphakala/dronenet-go/internal/conf"
)

// Reading is one sample of node health.
type Reading struct {
	SupplyV float64
	TempC   float64
	Load1   float64
	HasLoad bool
}

// TelemetrySource reports node health for outgoing frames.
type TelemetrySource interface {
	Read(ctx context.Context) Reading
}

// FixedTelemetry always reports the same reading.
type FixedTelemetry Reading

// Read implements TelemetrySource.
func (f FixedTelemetry) Read(context.Context) Reading {
	return Reading(f)
}

// HostTelemetry reads the board temperature and load average through
// gopsutil. Values it cannot read fall back to the configured constants.
// Supply voltage is never measured.
type HostTelemetry struct {
	settings conf.TelemetrySettings
}

// NewHostTelemetry creates a source backed by the configured fallbacks.
func NewHostTelemetry(settings conf.TelemetrySettings) *HostTelemetry {
	return &HostTelemetry{settings: settings}
}

// Read implements TelemetrySource.
func (h *HostTelemetry) Read(ctx context.Context) Reading {
	r := Reading{SupplyV: h.settings.SupplyV, TempC: h.settings.TempC}
	if !h.settings.UseSensors {
		return r
	}

	// Partial results come back together with a warnings error.
	temps, _ := host.SensorsTemperaturesWithContext(ctx)
	if t, ok := pickTemperature(temps); ok {
		r.TempC = t
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		r.Load1 = avg.Load1
		r.HasLoad = true
	}
	return r
}

// pickTemperature prefers a CPU or SoC sensor and otherwise takes the first
// sensor with a positive reading.
func pickTemperature(temps []host.TemperatureStat) (float64, bool) {
	first, found := 0.0, false
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "soc") {
			return t.Temperature, true
		}
		if !found {
			first, found = t.Temperature, true
		}
	}
	return first, found
}
