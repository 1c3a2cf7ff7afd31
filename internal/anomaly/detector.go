// Package anomaly implements the real-time vital-sign anomaly detector: static
// range checks, rolling z-score checks over per-(entity, metric) sliding
// windows, and behavioral pattern checks.
package anomaly

import (
	"fmt"
	"math"
	"time"

	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// Anomaly types emitted by the detector.
const (
	TypeRangeViolation      = "range_violation"
	TypeStatisticalOutlier  = "statistical_outlier"
	TypeProlongedInactivity = "prolonged_inactivity"
	TypeStressIndicator     = "stress_indicator"
)

// checkedMetrics is the fixed evaluation order for the per-metric checks.
var checkedMetrics = []string{
	telemetry.MetricHeartRate,
	telemetry.MetricActivityLevel,
	telemetry.MetricTemperature,
	telemetry.MetricStepCount,
}

// Anomaly is one detected condition on a single reading.
type Anomaly struct {
	EntityID  string             `json:"entity_id"`
	Metric    string             `json:"metric,omitempty"`
	Type      string             `json:"type"`
	Severity  telemetry.Severity `json:"severity"`
	Value     float64            `json:"value"`
	ZScore    float64            `json:"z_score,omitempty"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
}

// Detector holds per-(entity, metric) sliding windows and evaluates each
// incoming record against range, statistical and behavioral checks.
//
// A Detector is not safe for concurrent use; each processor shard owns its
// own instance.
type Detector struct {
	cfg     Config
	windows map[string]map[string]*window
}

// NewDetector creates a detector with the given configuration. Zero-valued
// config fields fall back to defaults.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:     cfg.normalize(),
		windows: make(map[string]map[string]*window),
	}
}

// Detect evaluates one record and returns every triggered anomaly, possibly
// none. Each present metric is range-checked and z-score-checked against its
// window of prior values, then appended to the window, so a value never
// compares against itself. Behavioral checks run afterwards.
func (d *Detector) Detect(rec *telemetry.TelemetryRecord) []Anomaly {
	var found []Anomaly

	for _, metric := range checkedMetrics {
		value, ok := rec.MetricValue(metric)
		if !ok {
			continue
		}

		if a, hit := d.checkRange(rec, metric, value); hit {
			found = append(found, a)
		}
		if a, hit := d.checkZScore(rec, metric, value); hit {
			found = append(found, a)
		}

		d.window(rec.EntityID, metric).push(value)
	}

	found = append(found, d.checkBehavior(rec)...)
	return found
}

// WindowLen returns how many samples the (entity, metric) window currently
// holds. Used by status projections and tests.
func (d *Detector) WindowLen(entityID, metric string) int {
	if byMetric, ok := d.windows[entityID]; ok {
		if w, ok := byMetric[metric]; ok {
			return w.len()
		}
	}
	return 0
}

func (d *Detector) checkRange(rec *telemetry.TelemetryRecord, metric string, value float64) (Anomaly, bool) {
	band, ok := d.cfg.Ranges[metric]
	if !ok {
		return Anomaly{}, false
	}
	if value >= band.Min && value <= band.Max {
		return Anomaly{}, false
	}
	return Anomaly{
		EntityID:  rec.EntityID,
		Metric:    metric,
		Type:      TypeRangeViolation,
		Severity:  telemetry.SeverityHigh,
		Value:     value,
		Message:   fmt.Sprintf("%s %.1f outside range [%.1f, %.1f]", metric, value, band.Min, band.Max),
		Timestamp: rec.Timestamp,
	}, true
}

func (d *Detector) checkZScore(rec *telemetry.TelemetryRecord, metric string, value float64) (Anomaly, bool) {
	threshold, ok := d.cfg.ZThresholds[metric]
	if !ok {
		return Anomaly{}, false
	}

	w := d.window(rec.EntityID, metric)
	if w.len() < d.cfg.MinSamples {
		return Anomaly{}, false
	}

	mean, stddev := w.stats()
	if stddev == 0 {
		return Anomaly{}, false
	}

	z := math.Abs(value-mean) / stddev
	if z <= threshold {
		return Anomaly{}, false
	}

	severity := telemetry.SeverityMedium
	if z >= d.cfg.ZHighCutoff {
		severity = telemetry.SeverityHigh
	}

	return Anomaly{
		EntityID:  rec.EntityID,
		Metric:    metric,
		Type:      TypeStatisticalOutlier,
		Severity:  severity,
		Value:     value,
		ZScore:    z,
		Message:   fmt.Sprintf("%s %.1f is %.1f standard deviations from rolling mean %.1f", metric, value, z, mean),
		Timestamp: rec.Timestamp,
	}, true
}

// checkBehavior runs the cross-metric pattern checks. The activity window
// already includes the current reading at this point.
func (d *Detector) checkBehavior(rec *telemetry.TelemetryRecord) []Anomaly {
	var found []Anomaly

	if rec.ActivityLevel != nil && *rec.ActivityLevel < d.cfg.InactivityLevel {
		w := d.window(rec.EntityID, telemetry.MetricActivityLevel)
		recent := w.tail(d.cfg.InactivityRun)
		if len(recent) >= d.cfg.InactivityRun && allBelow(recent, d.cfg.InactivityLevel) {
			found = append(found, Anomaly{
				EntityID:  rec.EntityID,
				Metric:    telemetry.MetricActivityLevel,
				Type:      TypeProlongedInactivity,
				Severity:  telemetry.SeverityHigh,
				Value:     *rec.ActivityLevel,
				Message:   fmt.Sprintf("activity below %.1f for %d consecutive readings", d.cfg.InactivityLevel, d.cfg.InactivityRun),
				Timestamp: rec.Timestamp,
			})
		}
	}

	if rec.HeartRate != nil && rec.ActivityLevel != nil {
		hr := float64(*rec.HeartRate)
		if hr > d.cfg.StressHeartRate && *rec.ActivityLevel < d.cfg.StressActivity {
			found = append(found, Anomaly{
				EntityID:  rec.EntityID,
				Metric:    telemetry.MetricHeartRate,
				Type:      TypeStressIndicator,
				Severity:  telemetry.SeverityMedium,
				Value:     hr,
				Message:   fmt.Sprintf("heart rate %.0f with activity %.1f suggests stress", hr, *rec.ActivityLevel),
				Timestamp: rec.Timestamp,
			})
		}
	}

	return found
}

func (d *Detector) window(entityID, metric string) *window {
	byMetric, ok := d.windows[entityID]
	if !ok {
		byMetric = make(map[string]*window)
		d.windows[entityID] = byMetric
	}
	w, ok := byMetric[metric]
	if !ok {
		w = newWindow(d.cfg.WindowSize)
		byMetric[metric] = w
	}
	return w
}

func allBelow(values []float64, limit float64) bool {
	for _, v := range values {
		if v >= limit {
			return false
		}
	}
	return true
}
