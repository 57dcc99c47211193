package pgva

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/pgva/config"
	"github.com/timzifer/pgva/remote"
	"github.com/timzifer/pgva/telemetry"
)

// Option customizes a driver instance at construction time.
type Option func(*Driver) error

// WithLogger provides a custom logger instance for the driver.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) error {
		d.logger = logger
		return nil
	}
}

// WithCollector installs a telemetry collector.
func WithCollector(collector telemetry.Collector) Option {
	return func(d *Driver) error {
		if collector == nil {
			collector = telemetry.Noop()
		}
		d.collector = collector
		return nil
	}
}

// WithBackend replaces the transport backend built from the configuration.
// Intended for tests and for callers that manage their own transport.
func WithBackend(backend remote.Backend) Option {
	return func(d *Driver) error {
		if backend == nil {
			return fmt.Errorf("backend must not be nil: %w", remote.ErrConfig)
		}
		d.backend = backend
		return nil
	}
}

// WithStatusPoll tunes the busy-bit polling performed after every setpoint
// write.
func WithStatusPoll(interval, timeout time.Duration) Option {
	return func(d *Driver) error {
		if interval <= 0 || timeout <= 0 {
			return fmt.Errorf("status poll interval and timeout must be positive: %w", remote.ErrConfig)
		}
		d.pollInterval = interval
		d.pollTimeout = timeout
		return nil
	}
}

// WithAutoClearTrigger declares that the device clears the actuation trigger
// register itself. The default is false: the driver issues the compensating
// clear write. Verify the firmware behavior against real hardware before
// enabling this.
func WithAutoClearTrigger(auto bool) Option {
	return func(d *Driver) error {
		d.autoClearTrigger = auto
		return nil
	}
}

// WithDriverConfig applies the tuning section of a configuration file.
func WithDriverConfig(cfg config.DriverConfig) Option {
	return func(d *Driver) error {
		if cfg.StatusPollInterval.Duration > 0 {
			d.pollInterval = cfg.StatusPollInterval.Duration
		}
		if cfg.StatusPollTimeout.Duration > 0 {
			d.pollTimeout = cfg.StatusPollTimeout.Duration
		}
		if cfg.AutoClearTrigger != nil {
			d.autoClearTrigger = *cfg.AutoClearTrigger
		}
		return nil
	}
}
