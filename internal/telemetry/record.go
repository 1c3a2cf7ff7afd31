// Package telemetry defines the typed telemetry schema shared by the core
// components: the immutable per-reading record, the enriched output record,
// alerts and windowed rollups, plus the wire codec for all of them.
package telemetry

import (
	"time"
)

// Severity grades an alert or detected condition.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Metric names used by the anomaly detector and windowed rollups.
const (
	MetricHeartRate     = "heart_rate"
	MetricActivityLevel = "activity_level"
	MetricTemperature   = "temperature"
	MetricStepCount     = "step_count"
)

// TelemetryRecord is one collar reading. It is constructed once at the
// ingestion boundary and never mutated afterwards; optional fields are nil
// when the collar did not report them.
type TelemetryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SensorID  string    `json:"sensor_id"`
	EntityID  string    `json:"entity_id"`
	FarmID    string    `json:"farm_id"`

	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	GPSAccuracyMeters *float64 `json:"gps_accuracy,omitempty"`

	Temperature       *float64 `json:"temperature,omitempty"`
	HeartRate         *int     `json:"heart_rate,omitempty"`
	ActivityLevel     *float64 `json:"activity_level,omitempty"`
	StepCount         *int     `json:"step_count,omitempty"`
	RuminationMinutes *int     `json:"rumination_time,omitempty"`

	BatteryPercent   float64 `json:"battery_level"`
	SignalStrength   float64 `json:"signal_strength"`
	DataQualityScore float64 `json:"data_quality_score"`
}

// HasLocation reports whether the record carries a GPS fix.
func (r *TelemetryRecord) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// MetricValue returns the named metric as a float64 and whether it is present.
func (r *TelemetryRecord) MetricValue(metric string) (float64, bool) {
	switch metric {
	case MetricHeartRate:
		if r.HeartRate != nil {
			return float64(*r.HeartRate), true
		}
	case MetricActivityLevel:
		if r.ActivityLevel != nil {
			return *r.ActivityLevel, true
		}
	case MetricTemperature:
		if r.Temperature != nil {
			return *r.Temperature, true
		}
	case MetricStepCount:
		if r.StepCount != nil {
			return float64(*r.StepCount), true
		}
	}
	return 0, false
}
