package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/hrv.report/internal/breath"
	"github.com/banshee-data/hrv.report/internal/pacer"
	"github.com/banshee-data/hrv.report/internal/sensor"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/hrv.defaults.json"

// Config is the root configuration of the hrv service. Every field is
// optional; the Get* accessors fall back to built-in defaults, so partial
// files are safe. Command-line flags override values loaded from a file.
type Config struct {
	// Sensor
	SensorModel *string     `json:"sensor_model,omitempty"`
	ChestAxis   *[3]float64 `json:"chest_axis,omitempty"`
	SerialPort  *string     `json:"serial_port,omitempty"`
	BaudRate    *int        `json:"baud_rate,omitempty"`
	EnableECG   *bool       `json:"enable_ecg,omitempty"`

	// Analysis
	PacingRate       *float64 `json:"pacing_rate,omitempty"`
	SpectrumInterval *string  `json:"spectrum_interval,omitempty"` // duration string like "1s"
	SnapshotInterval *string  `json:"snapshot_interval,omitempty"` // publisher cadence

	// Servers
	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`

	// Storage
	DBPath      *string `json:"db_path,omitempty"`
	CapturePath *string `json:"capture_path,omitempty"`

	// Publishers (disabled when the address is empty)
	MQTTBroker  *string `json:"mqtt_broker,omitempty"`
	MQTTTopic   *string `json:"mqtt_topic,omitempty"`
	NATSURL     *string `json:"nats_url,omitempty"`
	NATSSubject *string `json:"nats_subject,omitempty"`
	RedisAddr   *string `json:"redis_addr,omitempty"`
	RedisStream *string `json:"redis_stream,omitempty"`

	// Logging
	LogLevel  *string `json:"log_level,omitempty"`
	LogFormat *string `json:"log_format,omitempty"`
}

func ptrString(v string) *string { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must have a .json
// extension and the file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"console", "json"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.SensorModel != nil && *c.SensorModel != "" {
		if _, err := sensor.ParseModel(*c.SensorModel); err != nil {
			return err
		}
	}

	if c.ChestAxis != nil {
		a := *c.ChestAxis
		norm := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
		if !(norm > 0) || math.IsInf(norm, 0) {
			return fmt.Errorf("chest_axis must be a non-zero vector, got %v", a)
		}
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	if c.PacingRate != nil {
		r := *c.PacingRate
		if r != 0 && (r < pacer.MinRate || r > pacer.MaxRate) {
			return fmt.Errorf("pacing_rate must be 0 or between %v and %v, got %v", pacer.MinRate, pacer.MaxRate, r)
		}
	}

	if err := validDuration("spectrum_interval", c.SpectrumInterval); err != nil {
		return err
	}
	if err := validDuration("snapshot_interval", c.SnapshotInterval); err != nil {
		return err
	}

	if c.LogLevel != nil && !oneOf(strings.ToLower(*c.LogLevel), logLevels) {
		return fmt.Errorf("log_level must be one of %v, got %q", logLevels, *c.LogLevel)
	}
	if c.LogFormat != nil && !oneOf(strings.ToLower(*c.LogFormat), logFormats) {
		return fmt.Errorf("log_format must be one of %v, got %q", logFormats, *c.LogFormat)
	}
	return nil
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetSensorModel returns the configured sensor model, or the Polar H10.
func (c *Config) GetSensorModel() sensor.Model {
	if c.SensorModel == nil || *c.SensorModel == "" {
		return sensor.ModelPolarH10
	}
	m, err := sensor.ParseModel(*c.SensorModel)
	if err != nil {
		return sensor.ModelPolarH10
	}
	return m
}

// GetProfile returns the breath analysis profile of the configured sensor,
// with the chest axis overridden when chest_axis is set.
func (c *Config) GetProfile() breath.Profile {
	p, err := breath.ProfileFor(c.GetSensorModel())
	if err != nil {
		p = breath.DefaultProfile()
	}
	if c.ChestAxis != nil {
		a := *c.ChestAxis
		norm := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
		if norm > 0 && !math.IsInf(norm, 0) {
			p.ChestAxis = [3]float64{a[0] / norm, a[1] / norm, a[2] / norm}
		}
	}
	return p
}

// GetSerialPort returns the serial device path of the BLE bridge.
func (c *Config) GetSerialPort() string {
	return stringOr(c.SerialPort, "/dev/ttyUSB0")
}

// GetBaudRate returns the bridge baud rate.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetEnableECG reports whether the ECG stream is requested.
func (c *Config) GetEnableECG() bool {
	if c.EnableECG == nil {
		return false
	}
	return *c.EnableECG
}

// GetPacingRate returns the pacing rate in breaths per minute; 0 disables
// pacing.
func (c *Config) GetPacingRate() float64 {
	if c.PacingRate == nil {
		return 0
	}
	return *c.PacingRate
}

// GetSpectrumInterval returns how often spectra are recomputed.
func (c *Config) GetSpectrumInterval() time.Duration {
	return durationOr(c.SpectrumInterval, time.Second)
}

// GetSnapshotInterval returns how often metrics are published.
func (c *Config) GetSnapshotInterval() time.Duration {
	return durationOr(c.SnapshotInterval, 5*time.Second)
}

func (c *Config) GetHTTPListen() string { return stringOr(c.HTTPListen, ":8080") }
func (c *Config) GetGRPCListen() string { return stringOr(c.GRPCListen, ":50051") }

// GetDBPath returns the sqlite recorder path; empty disables recording.
func (c *Config) GetDBPath() string { return stringOr(c.DBPath, "") }

// GetCapturePath returns the pcap capture path; empty disables capture.
func (c *Config) GetCapturePath() string { return stringOr(c.CapturePath, "") }

func (c *Config) GetMQTTBroker() string  { return stringOr(c.MQTTBroker, "") }
func (c *Config) GetMQTTTopic() string   { return stringOr(c.MQTTTopic, "hrv/metrics") }
func (c *Config) GetNATSURL() string     { return stringOr(c.NATSURL, "") }
func (c *Config) GetNATSSubject() string { return stringOr(c.NATSSubject, "hrv.metrics") }
func (c *Config) GetRedisAddr() string   { return stringOr(c.RedisAddr, "") }
func (c *Config) GetRedisStream() string { return stringOr(c.RedisStream, "hrv:metrics") }

// GetLogLevel returns the lower-cased log level.
func (c *Config) GetLogLevel() string {
	return strings.ToLower(stringOr(c.LogLevel, "info"))
}

// GetLogFormat returns "console" or "json".
func (c *Config) GetLogFormat() string {
	return strings.ToLower(stringOr(c.LogFormat, "console"))
}
