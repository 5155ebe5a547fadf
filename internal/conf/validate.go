// conf/validate.go

package conf

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

func (ve *ValidationError) add(format string, args ...any) {
	ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
}

func (ve *ValidationError) result() error {
	if len(ve.Errors) > 0 {
		return *ve
	}
	return nil
}

// ValidateNode validates a node configuration, reporting every problem found.
func ValidateNode(s *NodeSettings) error {
	ve := &ValidationError{}

	if s.NodeID < 0 {
		ve.add("node_id must be non-negative, got %d", s.NodeID)
	}
	if !slices.Contains([]string{ArrayTriangle, ArrayTetrahedron}, s.ArrayMode) {
		ve.add("array_mode must be %q or %q, got %q", ArrayTriangle, ArrayTetrahedron, s.ArrayMode)
	} else if got := len(s.MicVectors()); got != s.NumChannels() {
		ve.add("%s array needs %d mic vectors, got %d", s.ArrayMode, s.NumChannels(), got)
	}
	for i, v := range s.MicVectors() {
		if v == [3]float64{} {
			ve.add("mic vector %d is zero", i)
		}
	}
	if s.GlobalPosition != nil && len(s.GlobalPosition) != 3 {
		ve.add("global_position must have 3 components, got %d", len(s.GlobalPosition))
	}
	if s.UseSimulator && !slices.Contains([]string{SimulatorTones, SimulatorDrone}, s.Simulator) {
		ve.add("simulator must be %q or %q, got %q", SimulatorTones, SimulatorDrone, s.Simulator)
	}
	if s.UseSimulator && s.Simulator == SimulatorDrone && len(s.GlobalPosition) != 3 {
		ve.add("drone simulator requires global_position")
	}

	validateSampling(ve, &s.Sampling)

	if s.Network.Port <= 0 || s.Network.Port > 65535 {
		ve.add("network.port out of range: %d", s.Network.Port)
	}
	if s.Network.HeartbeatHz < 0 {
		ve.add("network.heartbeat_hz must be non-negative")
	}
	if s.CalibrationNoiseRMS != nil && len(s.CalibrationNoiseRMS) != s.NumChannels() {
		ve.add("calibration_noise_rms has %d values for %d channels", len(s.CalibrationNoiseRMS), s.NumChannels())
	}
	for i, n := range s.CalibrationNoiseRMS {
		if n < 0 {
			ve.add("calibration_noise_rms[%d] is negative", i)
		}
	}
	validateSentry(ve, &s.Sentry)

	return ve.result()
}

func validateSampling(ve *ValidationError, s *SamplingSettings) {
	if s.SampleRate <= 0 {
		ve.add("sampling.sample_rate must be positive")
	}
	if s.FrameHopMS <= 0 {
		ve.add("sampling.frame_hop_ms must be positive")
	} else if s.SampleRate > 0 && s.HopSamples() < 1 {
		ve.add("sampling.frame_hop_ms %d is shorter than one sample at %.0f Hz", s.FrameHopMS, s.SampleRate)
	}
	if s.WindowSeconds <= 0 {
		ve.add("sampling.window_seconds must be positive")
	}
	if s.BlockSamples <= 0 {
		ve.add("sampling.block_samples must be positive")
	}
}

func validateSentry(ve *ValidationError, s *SentrySettings) {
	if s.Enabled && s.DSN == "" {
		ve.add("sentry.dsn is required when sentry is enabled")
	}
}

// ValidateServer validates the fusion server configuration.
func ValidateServer(s *ServerSettings) error {
	ve := &ValidationError{}

	if s.Listen.Port <= 0 || s.Listen.Port > 65535 {
		ve.add("listen.port out of range: %d", s.Listen.Port)
	}

	loc := &s.Localization
	if loc.RateHz <= 0 {
		ve.add("localization.rate_hz must be positive")
	}
	if loc.GridStep <= 0 {
		ve.add("localization.grid_step must be positive")
	}
	for name, axis := range map[string][]float64{"x": loc.GridBounds.X, "y": loc.GridBounds.Y, "z": loc.GridBounds.Z} {
		if len(axis) != 2 {
			ve.add("localization.grid_bounds.%s must be [min, max]", name)
		} else if axis[0] > axis[1] {
			ve.add("localization.grid_bounds.%s min %.2f exceeds max %.2f", name, axis[0], axis[1])
		}
	}
	if loc.SmoothingAlpha < 0 || loc.SmoothingAlpha > 1 {
		ve.add("localization.smoothing_alpha must be within [0, 1]")
	}
	if loc.SmoothingBeta < 0 || loc.SmoothingBeta > 1 {
		ve.add("localization.smoothing_beta must be within [0, 1]")
	}
	if loc.DirectionWeight < 0 {
		ve.add("localization.direction_weight must be non-negative")
	}
	if s.OfflineTimeout <= 0 {
		ve.add("offline_timeout must be positive")
	}

	seen := make(map[int]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if seen[n.NodeID] {
			ve.add("node %d is listed more than once", n.NodeID)
		}
		seen[n.NodeID] = true
		if len(n.Position) != 3 {
			ve.add("node %d position must have 3 components", n.NodeID)
		}
	}

	if s.Web.Enabled && (s.Web.Port <= 0 || s.Web.Port > 65535) {
		ve.add("web.port out of range: %d", s.Web.Port)
	}
	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			ve.add("mqtt.broker is required when mqtt is enabled")
		}
		if s.MQTT.Topic == "" {
			ve.add("mqtt.topic is required when mqtt is enabled")
		}
	}
	if s.Datastore.Enabled {
		switch s.Datastore.Type {
		case "sqlite":
			if s.Datastore.SQLite.Path == "" {
				ve.add("datastore.sqlite.path is required")
			}
		case "mysql":
			if s.Datastore.MySQL.Host == "" || s.Datastore.MySQL.Database == "" {
				ve.add("datastore.mysql host and database are required")
			}
		default:
			ve.add("datastore.type must be sqlite or mysql, got %q", s.Datastore.Type)
		}
	}
	if s.Notification.Enabled && len(s.Notification.URLs) == 0 {
		ve.add("notification.urls is empty while notifications are enabled")
	}
	validateSentry(ve, &s.Sentry)

	return ve.result()
}
