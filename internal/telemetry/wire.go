package telemetry

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

var (
	errMissingTimestamp = errors.New("event is missing a timestamp")
	errMissingSensorID  = errors.New("event is missing sensor_id")
	errMissingEntityID  = errors.New("event is missing entity_id")
)

// RawEvent is the JSON shape collars publish on the ingest queue. Vital-sign
// metrics arrive nested under "metrics"; everything except timestamp,
// sensor_id and entity_id is optional.
type RawEvent struct {
	Timestamp   time.Time  `json:"timestamp"`
	SensorID    string     `json:"sensor_id"`
	EntityID    string     `json:"entity_id"`
	FarmID      string     `json:"farm_id"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	GPSAccuracy *float64   `json:"gps_accuracy,omitempty"`
	Metrics     RawMetrics `json:"metrics"`

	Temperature      *float64 `json:"temperature,omitempty"`
	BatteryLevel     *float64 `json:"battery_level,omitempty"`
	SignalStrength   *float64 `json:"signal_strength,omitempty"`
	DataQualityScore *float64 `json:"data_quality_score,omitempty"`
}

// RawMetrics is the nested vital-sign block of a RawEvent.
type RawMetrics struct {
	HeartRate      *int     `json:"heart_rate,omitempty"`
	ActivityLevel  *float64 `json:"activity_level,omitempty"`
	StepCount      *int     `json:"step_count,omitempty"`
	RuminationTime *int     `json:"rumination_time,omitempty"`
}

// ParseRawEvent decodes one ingest payload into an immutable TelemetryRecord.
// Malformed payloads and payloads missing required fields return an error; the
// caller logs, counts and drops them, never retries.
func ParseRawEvent(payload []byte) (*TelemetryRecord, error) {
	var ev RawEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry event: %w", err)
	}

	if ev.Timestamp.IsZero() {
		return nil, errMissingTimestamp
	}
	if ev.SensorID == "" {
		return nil, errMissingSensorID
	}
	if ev.EntityID == "" {
		return nil, errMissingEntityID
	}

	rec := &TelemetryRecord{
		Timestamp:         ev.Timestamp.UTC(),
		SensorID:          ev.SensorID,
		EntityID:          ev.EntityID,
		FarmID:            ev.FarmID,
		Latitude:          ev.Latitude,
		Longitude:         ev.Longitude,
		GPSAccuracyMeters: ev.GPSAccuracy,
		Temperature:       ev.Temperature,
		HeartRate:         ev.Metrics.HeartRate,
		ActivityLevel:     ev.Metrics.ActivityLevel,
		StepCount:         ev.Metrics.StepCount,
		RuminationMinutes: ev.Metrics.RuminationTime,
		DataQualityScore:  1.0,
	}

	if ev.BatteryLevel != nil {
		rec.BatteryPercent = *ev.BatteryLevel
	}
	if ev.SignalStrength != nil {
		rec.SignalStrength = *ev.SignalStrength
	}
	if ev.DataQualityScore != nil {
		rec.DataQualityScore = clamp01(*ev.DataQualityScore)
	}

	return rec, nil
}

// Encode marshals any output payload (enriched record, alert, windowed
// metrics, feed message) to its wire JSON.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Decode is the inverse of Encode, used by consumers and tests.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
