// Package aggregate buckets telemetry into fixed-size time windows per entity
// and produces one immutable rollup record when a window closes — either by
// reaching its record quota or by wall-clock lapse past a grace period.
package aggregate

import (
	"sort"
	"time"

	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// Config tunes the aggregator.
type Config struct {
	// WindowSize is the bucket width; record timestamps are floored to it.
	WindowSize time.Duration
	// Grace is how long past a window's end late arrivals are still accepted
	// before a wall-clock flush.
	Grace time.Duration
	// MaxCount flushes a window as soon as it holds this many records.
	MaxCount int
}

// DefaultConfig returns 5-minute windows with a 1-minute grace and a
// 10-record quota.
func DefaultConfig() Config {
	return Config{
		WindowSize: 5 * time.Minute,
		Grace:      time.Minute,
		MaxCount:   10,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.Grace <= 0 {
		c.Grace = def.Grace
	}
	if c.MaxCount <= 0 {
		c.MaxCount = def.MaxCount
	}
	return c
}

type windowKey struct {
	entityID string
	start    int64
}

// bucket accumulates one open window. Metric sums track their own counts so
// means only cover records that carried the field.
type bucket struct {
	entityID  string
	farmID    string
	start     time.Time
	count     int
	sumHR     float64
	countHR   int
	sumAct    float64
	countAct  int
	sumTemp   float64
	countTemp int
	steps     int
	sumQual   float64
	anomalies int
}

// Aggregator holds the open windows. Not safe for concurrent use; each
// processor shard owns its own instance.
type Aggregator struct {
	cfg  Config
	open map[windowKey]*bucket
	now  func() time.Time
}

// New creates an aggregator. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:  cfg.normalize(),
		open: make(map[windowKey]*bucket),
		now:  time.Now,
	}
}

// SetClock overrides the aggregator's wall clock. Tests only.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Add buckets one record (with the number of anomalies detected on it) and
// returns any windows for this entity that closed as a result: the record's
// own window on reaching the quota, or an older lapsed window of the same
// entity.
func (a *Aggregator) Add(rec *telemetry.TelemetryRecord, anomalyCount int) []telemetry.WindowedMetrics {
	start := rec.Timestamp.Truncate(a.cfg.WindowSize)
	key := windowKey{entityID: rec.EntityID, start: start.UnixNano()}

	b, ok := a.open[key]
	if !ok {
		b = &bucket{entityID: rec.EntityID, farmID: rec.FarmID, start: start}
		a.open[key] = b
	}
	b.absorb(rec, anomalyCount)

	now := a.now()
	var flushed []telemetry.WindowedMetrics
	for k, w := range a.open {
		if k.entityID != rec.EntityID {
			continue
		}
		if w.count >= a.cfg.MaxCount || a.lapsed(w, now) {
			flushed = append(flushed, a.close(k, w))
		}
	}
	sortByStart(flushed)
	return flushed
}

// Sweep flushes every window, for any entity, whose end plus grace has lapsed
// at the given instant. Called on a timer so an entity that goes quiet
// mid-window still gets its rollup.
func (a *Aggregator) Sweep(now time.Time) []telemetry.WindowedMetrics {
	var flushed []telemetry.WindowedMetrics
	for k, w := range a.open {
		if a.lapsed(w, now) {
			flushed = append(flushed, a.close(k, w))
		}
	}
	sortByStart(flushed)
	return flushed
}

// Flush closes every open window regardless of age. Called on shutdown.
func (a *Aggregator) Flush() []telemetry.WindowedMetrics {
	var flushed []telemetry.WindowedMetrics
	for k, w := range a.open {
		flushed = append(flushed, a.close(k, w))
	}
	sortByStart(flushed)
	return flushed
}

// OpenWindows returns how many windows are currently buffered.
func (a *Aggregator) OpenWindows() int {
	return len(a.open)
}

func (a *Aggregator) lapsed(b *bucket, now time.Time) bool {
	return now.After(b.start.Add(a.cfg.WindowSize).Add(a.cfg.Grace))
}

func (a *Aggregator) close(k windowKey, b *bucket) telemetry.WindowedMetrics {
	delete(a.open, k)

	m := telemetry.WindowedMetrics{
		EntityID:     b.entityID,
		FarmID:       b.farmID,
		WindowStart:  b.start,
		WindowEnd:    b.start.Add(a.cfg.WindowSize),
		RecordCount:  b.count,
		TotalSteps:   b.steps,
		AnomalyCount: b.anomalies,
	}
	if b.countHR > 0 {
		m.MeanHeartRate = b.sumHR / float64(b.countHR)
	}
	if b.countAct > 0 {
		m.MeanActivity = b.sumAct / float64(b.countAct)
	}
	if b.countTemp > 0 {
		m.MeanTemperature = b.sumTemp / float64(b.countTemp)
	}
	if b.count > 0 {
		m.MeanQualityScore = b.sumQual / float64(b.count)
	}
	return m
}

func (b *bucket) absorb(rec *telemetry.TelemetryRecord, anomalyCount int) {
	b.count++
	b.anomalies += anomalyCount
	b.sumQual += rec.DataQualityScore
	if b.farmID == "" {
		b.farmID = rec.FarmID
	}

	if rec.HeartRate != nil {
		b.sumHR += float64(*rec.HeartRate)
		b.countHR++
	}
	if rec.ActivityLevel != nil {
		b.sumAct += *rec.ActivityLevel
		b.countAct++
	}
	if rec.Temperature != nil {
		b.sumTemp += *rec.Temperature
		b.countTemp++
	}
	if rec.StepCount != nil {
		b.steps += *rec.StepCount
	}
}

func sortByStart(ms []telemetry.WindowedMetrics) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].WindowStart.Equal(ms[j].WindowStart) {
			return ms[i].EntityID < ms[j].EntityID
		}
		return ms[i].WindowStart.Before(ms[j].WindowStart)
	})
}
