package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProcessorMetrics contains Prometheus metrics for the stream processor.
type ProcessorMetrics struct {
	EventsConsumed     prometheus.Counter
	EventsMalformed    prometheus.Counter
	AnomaliesDetected  *prometheus.CounterVec
	FenceViolations    *prometheus.CounterVec
	WindowsEmitted     prometheus.Counter
	PublishDrops       *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	OpenWindows        prometheus.Gauge
	CachedEntities     prometheus.Gauge
	ActiveFences       prometheus.Gauge
}

// NewProcessorMetrics creates and registers stream processor metrics.
func NewProcessorMetrics(namespace string) *ProcessorMetrics {
	m := &ProcessorMetrics{
		EventsConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "events_consumed_total",
				Help:      "Total number of telemetry events consumed",
			},
		),
		EventsMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "events_malformed_total",
				Help:      "Total number of events dropped because they could not be parsed",
			},
		),
		AnomaliesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "anomalies_detected_total",
				Help:      "Total number of anomalies detected",
			},
			[]string{"type", "severity"},
		),
		FenceViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "fence_violations_total",
				Help:      "Total number of virtual fence violations",
			},
			[]string{"type", "severity"},
		),
		WindowsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "windows_emitted_total",
				Help:      "Total number of aggregation windows emitted",
			},
		),
		PublishDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "publish_drops_total",
				Help:      "Total number of output records dropped due to a full publish buffer",
			},
			[]string{"output"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "publish_failures_total",
				Help:      "Total number of output records that failed to publish",
			},
			[]string{"output"},
		),
		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "processing_duration_seconds",
				Help:      "Duration of full per-event pipeline processing",
				Buckets:   prometheus.DefBuckets,
			},
		),
		OpenWindows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "open_windows",
				Help:      "Number of aggregation windows currently open",
			},
		),
		CachedEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "cached_entities",
				Help:      "Number of entities in the metadata cache",
			},
		),
		ActiveFences: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "active_fences",
				Help:      "Number of active virtual fences",
			},
		),
	}

	MustRegister(
		m.EventsConsumed,
		m.EventsMalformed,
		m.AnomaliesDetected,
		m.FenceViolations,
		m.WindowsEmitted,
		m.PublishDrops,
		m.PublishFailures,
		m.ProcessingDuration,
		m.OpenWindows,
		m.CachedEntities,
		m.ActiveFences,
	)

	return m
}
