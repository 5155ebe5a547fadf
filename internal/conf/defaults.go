// conf/defaults.go default values for settings
package conf

import (
	"math"
	"time"

	"github.com/spf13/viper"
)

// DefaultNoiseRMS seeds the noise tracker when no calibration is stored.
const DefaultNoiseRMS = 0.05

// DefaultDroneStateFile is shared between the position simulator and simulated nodes.
const DefaultDroneStateFile = "/tmp/drone_sim_state.json"

// defaultTriangleVectors point three horizontal mics 120 degrees apart.
func defaultTriangleVectors() [][]float64 {
	out := make([][]float64, 3)
	for i := range out {
		a := float64(i) * 2 * math.Pi / 3
		out[i] = []float64{math.Cos(a), math.Sin(a), 0}
	}
	return out
}

// defaultTetrahedronVectors are the vertex directions of a regular tetrahedron.
func defaultTetrahedronVectors() [][]float64 {
	k := 1 / math.Sqrt(3)
	return [][]float64{
		{k, k, k},
		{k, -k, -k},
		{-k, k, -k},
		{-k, -k, k},
	}
}

func setLoggingDefaults(v *viper.Viper) {
	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

// setNodeDefaults sets default values for a sensor node.
func setNodeDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("node_id", 1)
	v.SetDefault("array_mode", ArrayTriangle)
	v.SetDefault("triangle_vectors", defaultTriangleVectors())
	v.SetDefault("tetrahedron_vectors", defaultTetrahedronVectors())
	v.SetDefault("use_simulator", false)
	v.SetDefault("simulator", SimulatorTones)
	v.SetDefault("drone_state_file", DefaultDroneStateFile)
	v.SetDefault("capture_device", "")
	v.SetDefault("pga_voltage", 1.024)

	v.SetDefault("sampling.sample_rate", 860.0)
	v.SetDefault("sampling.frame_hop_ms", 100)
	v.SetDefault("sampling.window_seconds", 1.6)
	v.SetDefault("sampling.block_samples", 128)
	v.SetDefault("sampling.continuous", false)

	v.SetDefault("network.host", "10.0.0.1")
	v.SetDefault("network.port", 5005)
	v.SetDefault("network.heartbeat_hz", 2.0)

	v.SetDefault("telemetry.supply_v", 4.9)
	v.SetDefault("telemetry.temp_c", 37.0)
	v.SetDefault("telemetry.use_sensors", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "0.0.0.0:9100")

	setLoggingDefaults(v)
}

// setServerDefaults sets default values for the fusion server.
func setServerDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", 5005)

	v.SetDefault("localization.rate_hz", 20.0)
	v.SetDefault("localization.grid_bounds.x", []float64{-5, 25})
	v.SetDefault("localization.grid_bounds.y", []float64{-5, 25})
	v.SetDefault("localization.grid_bounds.z", []float64{0, 25})
	v.SetDefault("localization.grid_step", 1.0)
	v.SetDefault("localization.direction_weight", 0.3)
	v.SetDefault("localization.smoothing_alpha", 0.4)
	v.SetDefault("localization.smoothing_beta", 0.2)

	v.SetDefault("offline_timeout", 2*time.Second)
	v.SetDefault("dedup_window", 5*time.Second)

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.stream_interval", 200*time.Millisecond)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "dronenet")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("datastore.enabled", false)
	v.SetDefault("datastore.type", "sqlite")
	v.SetDefault("datastore.sqlite.path", "dronenet.db")
	v.SetDefault("datastore.mysql.host", "localhost")
	v.SetDefault("datastore.mysql.port", 3306)
	v.SetDefault("datastore.mysql.database", "dronenet")
	v.SetDefault("datastore.track_interval", time.Second)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.lost_after", 5*time.Second)

	v.SetDefault("calibration.config_dir", "configs")
	v.SetDefault("calibration.poll_interval", 500*time.Millisecond)

	setLoggingDefaults(v)
}
