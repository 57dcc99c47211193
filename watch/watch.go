// Package watch evaluates user-defined alarm rules against the internal
// sensor snapshot. Rules are boolean expressions over the sensor channels,
// compiled once and executed on a fixed polling cadence.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"github.com/timzifer/pgva"
	"github.com/timzifer/pgva/config"
	"github.com/timzifer/pgva/registers"
	"github.com/timzifer/pgva/telemetry"
)

// Severity ranks a triggered rule.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func parseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return SeverityWarning, nil
	case string(SeverityInfo):
		return SeverityInfo, nil
	case string(SeverityWarning):
		return SeverityWarning, nil
	case string(SeverityCritical):
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("unknown severity %q", raw)
	}
}

// channelNames maps snapshot channels onto the identifiers visible to rule
// expressions.
var channelNames = map[registers.Tag]string{
	registers.VacuumActual:         "vacuum_chamber",
	registers.PressureActual:       "pressure_chamber",
	registers.OutputPressureActual: "output_pressure",
}

func sampleEnv() map[string]interface{} {
	env := make(map[string]interface{}, len(channelNames))
	for _, name := range channelNames {
		env[name] = float64(0)
	}
	return env
}

// Rule is one compiled alarm expression.
type Rule struct {
	name       string
	expression string
	severity   Severity
	program    *vm.Program
}

// Compile builds a rule from its configuration. The expression must yield a
// boolean over the sensor channel identifiers.
func Compile(cfg config.WatchRule) (*Rule, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("watch rule name must not be empty")
	}
	severity, err := parseSeverity(cfg.Severity)
	if err != nil {
		return nil, fmt.Errorf("watch rule %s: %w", name, err)
	}
	program, err := expr.Compile(cfg.Expression, expr.Env(sampleEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("watch rule %s: compile %q: %w", name, cfg.Expression, err)
	}
	return &Rule{name: name, expression: cfg.Expression, severity: severity, program: program}, nil
}

// Name returns the rule identifier.
func (r *Rule) Name() string { return r.name }

// Severity returns the configured rank.
func (r *Rule) Severity() Severity { return r.severity }

// Eval runs the rule against one snapshot.
func (r *Rule) Eval(snapshot pgva.SensorSnapshot) (bool, error) {
	env := sampleEnv()
	for _, reading := range snapshot {
		if name, ok := channelNames[reading.Channel]; ok {
			env[name] = float64(reading.Millibar)
		}
	}
	result, err := expr.Run(r.program, env)
	if err != nil {
		return false, fmt.Errorf("watch rule %s: %w", r.name, err)
	}
	triggered, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("watch rule %s: expression did not yield a boolean", r.name)
	}
	return triggered, nil
}

// SensorSource provides snapshots to the monitor. *pgva.Driver satisfies it.
type SensorSource interface {
	InternalSensorData() (pgva.SensorSnapshot, error)
}

// Monitor polls the sensor snapshot and evaluates all rules against it.
type Monitor struct {
	source    SensorSource
	rules     []*Rule
	interval  time.Duration
	logger    zerolog.Logger
	collector telemetry.Collector
}

// NewMonitor compiles the configured rules into a monitor.
func NewMonitor(source SensorSource, cfg config.WatchConfig, logger zerolog.Logger, collector telemetry.Collector) (*Monitor, error) {
	if source == nil {
		return nil, fmt.Errorf("watch monitor requires a sensor source")
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	rules := make([]*Rule, 0, len(cfg.Rules))
	for _, ruleCfg := range cfg.Rules {
		rule, err := Compile(ruleCfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &Monitor{
		source:    source,
		rules:     rules,
		interval:  interval,
		logger:    logger.With().Str("component", "watch").Logger(),
		collector: collector,
	}, nil
}

// Check performs one evaluation pass over all rules.
func (m *Monitor) Check() error {
	snapshot, err := m.source.InternalSensorData()
	if err != nil {
		return fmt.Errorf("watch snapshot: %w", err)
	}
	for _, rule := range m.rules {
		triggered, err := rule.Eval(snapshot)
		if err != nil {
			return err
		}
		if !triggered {
			continue
		}
		m.collector.IncAlert(rule.name, string(rule.severity))
		event := m.logger.Warn()
		switch rule.severity {
		case SeverityInfo:
			event = m.logger.Info()
		case SeverityCritical:
			event = m.logger.Error()
		}
		event.Str("rule", rule.name).Str("expr", rule.expression).Msg("watch rule triggered")
	}
	return nil
}

// Run evaluates the rules on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Check(); err != nil {
				m.logger.Error().Err(err).Msg("watch pass failed")
			}
		}
	}
}
