// Package config defines the driver process configuration: which transport
// variant to use, how to log, which telemetry to expose and which watch
// rules to evaluate. The core driver never parses files itself; it receives
// the decoded values from here.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "100ms".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// TCPTransport describes the packet-oriented backend variant.
type TCPTransport struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	UnitID  byte     `yaml:"unit_id"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// SerialTransport describes the stream-oriented backend variant.
type SerialTransport struct {
	Device   string   `yaml:"device"`
	BaudRate int      `yaml:"baud_rate"`
	UnitID   byte     `yaml:"unit_id"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// Transport is a discriminated union: exactly one variant must be set. The
// variant is matched once at driver construction; afterwards only the
// backend contract is visible.
type Transport struct {
	TCP    *TCPTransport    `yaml:"tcp,omitempty"`
	Serial *SerialTransport `yaml:"serial,omitempty"`
}

// Validate ensures exactly one transport variant is selected.
func (t Transport) Validate() error {
	switch {
	case t.TCP == nil && t.Serial == nil:
		return errors.New("transport: one of tcp or serial must be configured")
	case t.TCP != nil && t.Serial != nil:
		return errors.New("transport: tcp and serial are mutually exclusive")
	}
	return nil
}

// LokiConfig enables shipping driver logs to a Loki endpoint.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// TelemetryConfig controls the Prometheus metric endpoint.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
}

// DriverConfig tunes command layer behavior that depends on device firmware.
type DriverConfig struct {
	// StatusPollInterval is the pause between busy-bit polls after a
	// setpoint write.
	StatusPollInterval Duration `yaml:"status_poll_interval,omitempty"`
	// StatusPollTimeout bounds how long a write waits for the device to
	// leave the busy state.
	StatusPollTimeout Duration `yaml:"status_poll_timeout,omitempty"`
	// AutoClearTrigger declares that the device clears the actuation
	// trigger register itself; when false the driver issues the
	// compensating clear write. Verify against real hardware.
	AutoClearTrigger *bool `yaml:"auto_clear_trigger,omitempty"`
}

// WatchRule is a boolean expression over the sensor snapshot channels.
type WatchRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expr"`
	Severity   string `yaml:"severity,omitempty"`
}

// WatchConfig describes the snapshot monitor.
type WatchConfig struct {
	Interval Duration    `yaml:"interval,omitempty"`
	Rules    []WatchRule `yaml:"rules,omitempty"`
}

// Config is the root process configuration.
type Config struct {
	Transport Transport       `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Driver    DriverConfig    `yaml:"driver,omitempty"`
	Watch     WatchConfig     `yaml:"watch,omitempty"`
}

// Load reads, schema-checks and decodes the configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := cfg.Transport.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}
