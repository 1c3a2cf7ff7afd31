package telemetry

import (
	"time"
)

// EntityMeta is the metadata attached to a record during enrichment. A lookup
// miss yields the zero value with Known=false; unknown metadata is never an
// error.
type EntityMeta struct {
	FarmID     string `json:"farm_id"`
	EntityType string `json:"entity_type"`
	EntityName string `json:"entity_name"`
	Species    string `json:"species"`
	Breed      string `json:"breed"`
	AgeMonths  int    `json:"age_months"`
	Known      bool   `json:"-"`
}

// TimeFeatures are derived from the record timestamp during enrichment.
type TimeFeatures struct {
	Hour      int    `json:"hour"`
	DayOfWeek string `json:"day_of_week"`
	IsNight   bool   `json:"is_night"`
}

// EnrichedRecord is the per-event output on the enriched-telemetry channel:
// the original reading plus entity metadata, derived time features and an
// optional real-time health score.
type EnrichedRecord struct {
	TelemetryRecord

	EntityName  string       `json:"entity_name,omitempty"`
	Species     string       `json:"species,omitempty"`
	Breed       string       `json:"breed,omitempty"`
	AgeMonths   int          `json:"age_months,omitempty"`
	Time        TimeFeatures `json:"time_features"`
	HealthScore *float64     `json:"health_score,omitempty"`

	AnomalyCount int `json:"anomaly_count"`
}

// Alert is one message on the alerts channel, emitted for every anomaly and
// every fence violation.
type Alert struct {
	AlertID   string         `json:"alert_id"`
	EntityID  string         `json:"entity_id"`
	FarmID    string         `json:"farm_id"`
	AlertType string         `json:"alert_type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WindowedMetrics is the rollup for one entity over one closed time bucket.
// Immutable once the window flushes.
type WindowedMetrics struct {
	EntityID         string    `json:"entity_id"`
	FarmID           string    `json:"farm_id"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	RecordCount      int       `json:"record_count"`
	MeanHeartRate    float64   `json:"mean_heart_rate"`
	MeanActivity     float64   `json:"mean_activity"`
	MeanTemperature  float64   `json:"mean_temperature"`
	TotalSteps       int       `json:"total_steps"`
	MeanQualityScore float64   `json:"mean_quality_score"`
	AnomalyCount     int       `json:"anomaly_count"`
}
