package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "aquarium_"

// Result label values.
const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultError   = "error"
)

// Metrics holds the pipeline's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	kernelLatency *prometheus.HistogramVec
	groupsTotal   *prometheus.CounterVec
	rowsTotal     prometheus.Counter
	runsTotal     *prometheus.CounterVec
	tanksGauge    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		kernelLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "stress_kernel_seconds",
				Help:    "Stress kernel latency per tank group in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"result"},
		),
		groupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stress_groups_total",
				Help: "Tank groups scored by result",
			},
			[]string{"result"},
		),
		rowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rows_processed_total",
				Help: "Sensor rows passed through the stress engine",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_runs_total",
				Help: "Full pipeline runs by result",
			},
			[]string{"result"},
		),
		tanksGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tanks",
				Help: "Tank groups seen in the last run",
			},
		),
	}
	reg.MustRegister(m.kernelLatency, m.groupsTotal, m.rowsTotal, m.runsTotal, m.tanksGauge)
	return m
}

// ObserveGroup records one tank group passing through the kernel.
func (m *Metrics) ObserveGroup(result string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.kernelLatency.WithLabelValues(result).Observe(d.Seconds())
	m.groupsTotal.WithLabelValues(result).Inc()
	m.rowsTotal.Add(float64(rows))
}

// ObserveRun records a finished pipeline run.
func (m *Metrics) ObserveRun(result string, tanks int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(result).Inc()
	m.tanksGauge.Set(float64(tanks))
}
