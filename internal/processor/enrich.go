package processor

import (
	"context"
	"log/slog"
	"math"

	"github.com/pasturelabs/herdwatch/internal/metadata"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// Enricher attaches entity metadata, derived time features and an optional
// health score to each record. A metadata miss enriches with unknowns; it is
// never an error and never blocks the stream.
type Enricher struct {
	logger *slog.Logger
	cache  *metadata.Cache
}

// NewEnricher creates an enricher over the given metadata cache. A nil cache
// is allowed; records are then enriched with time features only.
func NewEnricher(logger *slog.Logger, cache *metadata.Cache) *Enricher {
	return &Enricher{
		logger: logger,
		cache:  cache,
	}
}

// CacheSize reports how many entities the metadata cache currently holds.
func (e *Enricher) CacheSize() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Size()
}

// Enrich builds the enriched output record for one reading.
func (e *Enricher) Enrich(ctx context.Context, rec *telemetry.TelemetryRecord, anomalyCount int) *telemetry.EnrichedRecord {
	out := &telemetry.EnrichedRecord{
		TelemetryRecord: *rec,
		Time:            timeFeatures(rec),
		HealthScore:     healthScore(rec),
		AnomalyCount:    anomalyCount,
	}

	if e.cache != nil {
		meta := e.cache.Get(ctx, rec.EntityID)
		if meta.Known {
			out.EntityName = meta.EntityName
			out.Species = meta.Species
			out.Breed = meta.Breed
			out.AgeMonths = meta.AgeMonths
			if out.FarmID == "" {
				out.FarmID = meta.FarmID
			}
		} else {
			e.logger.Debug("no metadata for entity", "entity_id", rec.EntityID)
		}
	}

	return out
}

func timeFeatures(rec *telemetry.TelemetryRecord) telemetry.TimeFeatures {
	ts := rec.Timestamp
	hour := ts.Hour()
	return telemetry.TimeFeatures{
		Hour:      hour,
		DayOfWeek: ts.Weekday().String(),
		IsNight:   hour >= 22 || hour < 6,
	}
}

// Normal resting bands used by the health score.
const (
	healthyHeartRateLow  = 55.0
	healthyHeartRateHigh = 85.0
	healthyTempLow       = 38.0
	healthyTempHigh      = 39.5
)

// healthScore is a simple weighted 0-100 score from how far the vitals sit
// outside their normal bands. Requires heart rate and temperature; other
// fields contribute when present.
func healthScore(rec *telemetry.TelemetryRecord) *float64 {
	if rec.HeartRate == nil || rec.Temperature == nil {
		return nil
	}

	score := 100.0

	hr := float64(*rec.HeartRate)
	score -= bandPenalty(hr, healthyHeartRateLow, healthyHeartRateHigh) * 0.5

	score -= bandPenalty(*rec.Temperature, healthyTempLow, healthyTempHigh) * 20

	if rec.ActivityLevel != nil && *rec.ActivityLevel < 0.5 {
		score -= 5
	}
	if rec.RuminationMinutes != nil && *rec.RuminationMinutes == 0 {
		score -= 5
	}

	score = math.Max(0, math.Min(100, score))
	score = math.Round(score*10) / 10
	return &score
}

// bandPenalty is the distance of v outside [low, high], zero inside.
func bandPenalty(v, low, high float64) float64 {
	switch {
	case v < low:
		return low - v
	case v > high:
		return v - high
	default:
		return 0
	}
}
