package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CollarMetrics contains Prometheus metrics for the collar simulator.
type CollarMetrics struct {
	ReadingsGenerated  *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	CollarsSimulated   prometheus.Gauge
	GenerationDuration *prometheus.HistogramVec
}

// NewCollarMetrics creates and registers collar simulator metrics.
func NewCollarMetrics(namespace string) *CollarMetrics {
	m := &CollarMetrics{
		ReadingsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collar",
				Name:      "readings_generated_total",
				Help:      "Total number of synthetic collar readings generated",
			},
			[]string{"kind"},
		),
		GenerationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collar",
				Name:      "generation_failures_total",
				Help:      "Total number of failed reading generations or publishes",
			},
			[]string{"kind", "reason"},
		),
		CollarsSimulated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "collar",
				Name:      "collars_simulated",
				Help:      "Number of collars currently being simulated",
			},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "collar",
				Name:      "generation_duration_seconds",
				Help:      "Duration of reading generation and publish operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}

	MustRegister(
		m.ReadingsGenerated,
		m.GenerationFailures,
		m.CollarsSimulated,
		m.GenerationDuration,
	)

	return m
}
