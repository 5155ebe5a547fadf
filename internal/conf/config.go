package conf

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/dronenet-go/internal/logger"
)

// Array modes
const (
	ArrayTriangle    = "triangle"
	ArrayTetrahedron = "tetrahedron"
)

// Simulator variants for nodes without hardware
const (
	SimulatorTones = "tones"
	SimulatorDrone = "drone"
)

// SamplingSettings controls the node's acquisition and framing cadence.
type SamplingSettings struct {
	SampleRate    float64 `yaml:"sample_rate" mapstructure:"sample_rate"`       // samples per second per channel
	FrameHopMS    int     `yaml:"frame_hop_ms" mapstructure:"frame_hop_ms"`     // stride between emitted frames
	WindowSeconds float64 `yaml:"window_seconds" mapstructure:"window_seconds"` // analysis window length
	BlockSamples  int     `yaml:"block_samples" mapstructure:"block_samples"`   // samples requested per sampler read
	Continuous    bool    `yaml:"continuous" mapstructure:"continuous"`         // sample on a dedicated goroutine
}

// HopSamples returns the frame hop in samples.
func (s SamplingSettings) HopSamples() int {
	return int(s.SampleRate * float64(s.FrameHopMS) / 1000.0)
}

// WindowSamples returns the analysis window in samples, never shorter than one hop.
func (s SamplingSettings) WindowSamples() int {
	return max(int(s.WindowSeconds*s.SampleRate), s.HopSamples())
}

// NetworkSettings addresses the fusion server.
type NetworkSettings struct {
	Host        string  `yaml:"host" mapstructure:"host"`
	Port        int     `yaml:"port" mapstructure:"port"`
	HeartbeatHz float64 `yaml:"heartbeat_hz" mapstructure:"heartbeat_hz"`
}

// Endpoint returns host:port of the fusion server.
func (n NetworkSettings) Endpoint() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// TelemetrySettings are the node health values reported in every packet.
// Sensor readings replace the fixed values when UseSensors is set and a reading exists.
type TelemetrySettings struct {
	SupplyV    float64 `yaml:"supply_v" mapstructure:"supply_v"`
	TempC      float64 `yaml:"temp_c" mapstructure:"temp_c"`
	UseSensors bool    `yaml:"use_sensors" mapstructure:"use_sensors"`
}

// SentrySettings controls optional error reporting.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// MetricsSettings controls the node's Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// NodeSettings is the configuration of one sensor node.
type NodeSettings struct {
	Debug               bool                 `yaml:"debug" mapstructure:"debug"`
	NodeID              int                  `yaml:"node_id" mapstructure:"node_id"`
	ArrayMode           string               `yaml:"array_mode" mapstructure:"array_mode"`
	GlobalPosition      []float64            `yaml:"global_position" mapstructure:"global_position"`
	TriangleVectors     [][]float64          `yaml:"triangle_vectors" mapstructure:"triangle_vectors"`
	TetrahedronVectors  [][]float64          `yaml:"tetrahedron_vectors" mapstructure:"tetrahedron_vectors"`
	UseSimulator        bool                 `yaml:"use_simulator" mapstructure:"use_simulator"`
	Simulator           string               `yaml:"simulator" mapstructure:"simulator"`
	DroneStateFile      string               `yaml:"drone_state_file" mapstructure:"drone_state_file"`
	CaptureDevice       string               `yaml:"capture_device" mapstructure:"capture_device"`
	PGAVoltage          float64              `yaml:"pga_voltage" mapstructure:"pga_voltage"`
	Sampling            SamplingSettings     `yaml:"sampling" mapstructure:"sampling"`
	Network             NetworkSettings      `yaml:"network" mapstructure:"network"`
	Telemetry           TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	CalibrationNoiseRMS []float64            `yaml:"calibration_noise_rms" mapstructure:"calibration_noise_rms"`
	Metrics             MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Sentry              SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Logging             logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// NumChannels returns 3 for the triangle array and 4 for the tetrahedron.
func (n *NodeSettings) NumChannels() int {
	if n.ArrayMode == ArrayTetrahedron {
		return 4
	}
	return 3
}

// MicVectors returns the unit pointing vectors for the configured array mode.
func (n *NodeSettings) MicVectors() [][3]float64 {
	src := n.TriangleVectors
	if n.ArrayMode == ArrayTetrahedron {
		src = n.TetrahedronVectors
	}
	out := make([][3]float64, len(src))
	for i, v := range src {
		var p [3]float64
		copy(p[:], v)
		out[i] = normalize(p)
	}
	return out
}

// Position returns the node's world position, or false if none is configured.
func (n *NodeSettings) Position() ([3]float64, bool) {
	var p [3]float64
	if len(n.GlobalPosition) != 3 {
		return p, false
	}
	copy(p[:], n.GlobalPosition)
	return p, true
}

func normalize(v [3]float64) [3]float64 {
	norm := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if norm == 0 {
		return v
	}
	return [3]float64{v[0] / norm, v[1] / norm, v[2] / norm}
}

// ListenSettings is the UDP endpoint the fusion server binds.
type ListenSettings struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// Address returns host:port.
func (l ListenSettings) Address() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// GridBounds is the axis-aligned search volume in metres. Each axis is [min, max].
type GridBounds struct {
	X []float64 `yaml:"x" mapstructure:"x" json:"x"`
	Y []float64 `yaml:"y" mapstructure:"y" json:"y"`
	Z []float64 `yaml:"z" mapstructure:"z" json:"z"`
}

// LocalizationSettings tunes the fusion engine.
type LocalizationSettings struct {
	RateHz          float64    `yaml:"rate_hz" mapstructure:"rate_hz"`
	GridBounds      GridBounds `yaml:"grid_bounds" mapstructure:"grid_bounds"`
	GridStep        float64    `yaml:"grid_step" mapstructure:"grid_step"`
	DirectionWeight float64    `yaml:"direction_weight" mapstructure:"direction_weight"`
	SmoothingAlpha  float64    `yaml:"smoothing_alpha" mapstructure:"smoothing_alpha"`
	SmoothingBeta   float64    `yaml:"smoothing_beta" mapstructure:"smoothing_beta"`
}

// NodeGeometry places a node in the world frame.
type NodeGeometry struct {
	NodeID   int       `yaml:"node_id" mapstructure:"node_id" json:"node_id"`
	Position []float64 `yaml:"position" mapstructure:"position" json:"position"`
}

// WebSettings configures the status API.
type WebSettings struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	StreamInterval time.Duration `yaml:"stream_interval" mapstructure:"stream_interval"`
}

// Address returns host:port.
func (w WebSettings) Address() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// MQTTSettings configures fusion state publishing.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// SQLiteSettings for the embedded track store.
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings for a shared track store.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// DatastoreSettings configures track and calibration persistence.
type DatastoreSettings struct {
	Enabled       bool           `yaml:"enabled" mapstructure:"enabled"`
	Type          string         `yaml:"type" mapstructure:"type"` // sqlite or mysql
	SQLite        SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL         MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
	TrackInterval time.Duration  `yaml:"track_interval" mapstructure:"track_interval"`
}

// NotificationSettings configures track alerts.
type NotificationSettings struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs      []string      `yaml:"urls" mapstructure:"urls"` // shoutrrr service URLs
	LostAfter time.Duration `yaml:"lost_after" mapstructure:"lost_after"`
}

// CalibrationSettings configures server-side calibration jobs.
type CalibrationSettings struct {
	ConfigDir    string        `yaml:"config_dir" mapstructure:"config_dir"` // where node-<id>.yaml files live
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// ServerSettings is the configuration of the fusion server.
type ServerSettings struct {
	Debug          bool                 `yaml:"debug" mapstructure:"debug"`
	Listen         ListenSettings       `yaml:"listen" mapstructure:"listen"`
	Localization   LocalizationSettings `yaml:"localization" mapstructure:"localization"`
	OfflineTimeout time.Duration        `yaml:"offline_timeout" mapstructure:"offline_timeout"`
	DedupWindow    time.Duration        `yaml:"dedup_window" mapstructure:"dedup_window"`
	Nodes          []NodeGeometry       `yaml:"nodes" mapstructure:"nodes"`
	Web            WebSettings          `yaml:"web" mapstructure:"web"`
	MQTT           MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Datastore      DatastoreSettings    `yaml:"datastore" mapstructure:"datastore"`
	Notification   NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Calibration    CalibrationSettings  `yaml:"calibration" mapstructure:"calibration"`
	Sentry         SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Logging        logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// NodePositions returns the configured world positions keyed by node id.
func (s *ServerSettings) NodePositions() map[int][3]float64 {
	out := make(map[int][3]float64, len(s.Nodes))
	for _, n := range s.Nodes {
		if len(n.Position) != 3 {
			continue
		}
		out[n.NodeID] = [3]float64{n.Position[0], n.Position[1], n.Position[2]}
	}
	return out
}

// LoadNode reads a node configuration file. Flags, when given, override file values.
func LoadNode(path string, flags *pflag.FlagSet) (*NodeSettings, error) {
	v := viper.New()
	setNodeDefaults(v)
	if err := readInto(v, path, "node", flags); err != nil {
		return nil, err
	}

	settings := &NodeSettings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling node config: %w", err)
	}
	if err := ValidateNode(settings); err != nil {
		return nil, fmt.Errorf("error validating node config: %w", err)
	}
	return settings, nil
}

// LoadServer reads the fusion server configuration. A missing file with an
// empty path falls back to defaults; an explicit path must exist.
func LoadServer(path string, flags *pflag.FlagSet) (*ServerSettings, error) {
	v := viper.New()
	setServerDefaults(v)
	if err := readInto(v, path, "server", flags); err != nil {
		return nil, err
	}

	settings := &ServerSettings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling server config: %w", err)
	}
	if err := ValidateServer(settings); err != nil {
		return nil, fmt.Errorf("error validating server config: %w", err)
	}
	return settings, nil
}

func readInto(v *viper.Viper, path, name string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("DRONENET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Info("no config file found, using defaults", logger.String("name", name))
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// SaveYAMLConfig marshals settings and replaces configPath atomically.
// It overwrites the existing file without preserving comments.
func SaveYAMLConfig(configPath string, settings any) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return writeFileAtomic(configPath, yamlData)
}

// SaveCalibration writes calibration_noise_rms into a node config file,
// keeping every other key, comment and the key order intact. The file is
// created if it does not exist.
func SaveCalibration(configPath string, noise []float64) error {
	var doc yaml.Node
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("error parsing %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("error reading %s: %w", configPath, err)
	}

	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", configPath)
	}

	var value yaml.Node
	if err := value.Encode(noise); err != nil {
		return fmt.Errorf("error encoding calibration: %w", err)
	}
	value.Style = yaml.FlowStyle

	replaced := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "calibration_noise_rms" {
			root.Content[i+1] = &value
			replaced = true
			break
		}
	}
	if !replaced {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "calibration_noise_rms"},
			&value)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", configPath, err)
	}
	return writeFileAtomic(configPath, out)
}

// NodeConfigPath returns the conventional node-<id>.yaml path inside dir.
func NodeConfigPath(dir string, nodeID int) string {
	return filepath.Join(dir, fmt.Sprintf("node-%d.yaml", nodeID))
}

// writeFileAtomic writes through a temp file in the target directory and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, path); err != nil {
		if err := copyFile(tempFileName, path); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}
	return nil
}

// copyFile is the fallback when rename crosses filesystems.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // temp file we created
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // config path from caller
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
