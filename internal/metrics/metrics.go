package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tuyalocal2mqtt"

const (
	RESULT_SUCCESS = "success"
	RESULT_FAILURE = "failure"
)

// Metrics groups the counters of the entry lifecycle. A nil *Metrics is a no-op.
type Metrics struct {
	migrations      *prometheus.CounterVec
	inferences      *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	deregistrations *prometheus.CounterVec
	loadedEntries   prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		migrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "migrations_total",
				Help:      "Configuration entry migrations by result.",
			}, []string{"result"},
		),
		inferences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "device_inferences_total",
				Help:      "Live device type inferences by result.",
			}, []string{"result"},
		),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "platform_registrations_total",
				Help:      "Platform registrations by platform and result.",
			}, []string{"platform", "result"},
		),
		deregistrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "platform_deregistrations_total",
				Help:      "Platform deregistrations by platform and result.",
			}, []string{"platform", "result"},
		),
		loadedEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "loaded_devices",
				Help:      "Devices with a live session.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.migrations.Describe(ch)
	m.inferences.Describe(ch)
	m.registrations.Describe(ch)
	m.deregistrations.Describe(ch)
	m.loadedEntries.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.migrations.Collect(ch)
	m.inferences.Collect(ch)
	m.registrations.Collect(ch)
	m.deregistrations.Collect(ch)
	m.loadedEntries.Collect(ch)
}

func (m *Metrics) Migration(err error) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Inference(err error) {
	if m == nil {
		return
	}
	m.inferences.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Registration(platform string, err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(platform, result(err)).Inc()
}

func (m *Metrics) Deregistration(platform string, err error) {
	if m == nil {
		return
	}
	m.deregistrations.WithLabelValues(platform, result(err)).Inc()
}

func (m *Metrics) SetLoadedDevices(n int) {
	if m == nil {
		return
	}
	m.loadedEntries.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return RESULT_FAILURE
	}
	return RESULT_SUCCESS
}
