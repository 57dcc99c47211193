package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the driver.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with register exchanges.
type Collector interface {
	IncRegisterRead(register string)
	IncRegisterWrite(register string)
	IncCommandError(command string)
	IncAlert(rule, severity string)
	SetSensorValue(channel string, millibar float64)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncRegisterRead(string)         {}
func (noopCollector) IncRegisterWrite(string)        {}
func (noopCollector) IncCommandError(string)         {}
func (noopCollector) IncAlert(string, string)        {}
func (noopCollector) SetSensorValue(string, float64) {}

// PrometheusCollector exposes driver telemetry via Prometheus.
type PrometheusCollector struct {
	registerReads  *prometheus.CounterVec
	registerWrites *prometheus.CounterVec
	commandErrors  *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	sensorValues   *prometheus.GaugeVec
}

var (
	registerReadCounter   *prometheus.CounterVec
	registerWriteCounter  *prometheus.CounterVec
	commandErrorCounter   *prometheus.CounterVec
	alertCounter          *prometheus.CounterVec
	sensorValueGauge      *prometheus.GaugeVec
	collectorRegistryLock sync.Mutex
)

func registerCounterVec(reg prometheus.Registerer, current *prometheus.CounterVec, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	if current != nil {
		return current, nil
	}
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

// NewPrometheusCollector registers the driver metrics with the provided
// registerer. Repeated registration reuses the existing collectors.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectorRegistryLock.Lock()
	defer collectorRegistryLock.Unlock()

	var err error
	registerReadCounter, err = registerCounterVec(reg, registerReadCounter, prometheus.CounterOpts{
		Name: "pgva_register_reads_total",
		Help: "Number of raw register reads issued per logical register.",
	}, []string{"register"})
	if err != nil {
		return nil, err
	}
	registerWriteCounter, err = registerCounterVec(reg, registerWriteCounter, prometheus.CounterOpts{
		Name: "pgva_register_writes_total",
		Help: "Number of raw register writes issued per logical register.",
	}, []string{"register"})
	if err != nil {
		return nil, err
	}
	commandErrorCounter, err = registerCounterVec(reg, commandErrorCounter, prometheus.CounterOpts{
		Name: "pgva_command_errors_total",
		Help: "Number of failed driver commands per operation.",
	}, []string{"command"})
	if err != nil {
		return nil, err
	}
	alertCounter, err = registerCounterVec(reg, alertCounter, prometheus.CounterOpts{
		Name: "pgva_watch_alerts_total",
		Help: "Number of watch rule activations per rule.",
	}, []string{"rule", "severity"})
	if err != nil {
		return nil, err
	}
	if sensorValueGauge == nil {
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pgva_sensor_millibar",
			Help: "Last observed internal sensor value per channel in millibar.",
		}, []string{"channel"})
		if err := reg.Register(gauge); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
					sensorValueGauge = existing
				} else {
					return nil, err
				}
			} else {
				return nil, err
			}
		} else {
			sensorValueGauge = gauge
		}
	}

	return &PrometheusCollector{
		registerReads:  registerReadCounter,
		registerWrites: registerWriteCounter,
		commandErrors:  commandErrorCounter,
		alerts:         alertCounter,
		sensorValues:   sensorValueGauge,
	}, nil
}

// IncRegisterRead counts a raw read of the named register.
func (p *PrometheusCollector) IncRegisterRead(register string) {
	if p == nil || p.registerReads == nil {
		return
	}
	p.registerReads.WithLabelValues(register).Inc()
}

// IncRegisterWrite counts a raw write of the named register.
func (p *PrometheusCollector) IncRegisterWrite(register string) {
	if p == nil || p.registerWrites == nil {
		return
	}
	p.registerWrites.WithLabelValues(register).Inc()
}

// IncCommandError counts a failed driver command.
func (p *PrometheusCollector) IncCommandError(command string) {
	if p == nil || p.commandErrors == nil {
		return
	}
	p.commandErrors.WithLabelValues(command).Inc()
}

// IncAlert counts a watch rule activation.
func (p *PrometheusCollector) IncAlert(rule, severity string) {
	if p == nil || p.alerts == nil {
		return
	}
	p.alerts.WithLabelValues(rule, severity).Inc()
}

// SetSensorValue updates the gauge for the given sensor channel.
func (p *PrometheusCollector) SetSensorValue(channel string, millibar float64) {
	if p == nil || p.sensorValues == nil {
		return
	}
	p.sensorValues.WithLabelValues(channel).Set(millibar)
}
