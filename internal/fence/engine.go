// Package fence implements the virtual fence engine: containment and
// exclusion checking of location updates against registered polygon fences,
// with buffer-zone approach warnings, per-(entity, fence) alert cooldowns,
// severity grading and confidence scoring.
package fence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pasturelabs/herdwatch/internal/geo"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// Violation types.
const (
	ViolationEntry    = "entry"
	ViolationExit     = "exit"
	ViolationApproach = "approach"
)

// historyRetention bounds the per-entity location history.
const historyRetention = 24 * time.Hour

// violationNamespace seeds deterministic violation ids: replaying the same
// update yields the same id.
var violationNamespace = uuid.MustParse("8f1d6a52-9c34-4b0e-9d2a-4f5b61c0a7e3")

// AnimalLocation is one GPS fix for an entity.
type AnimalLocation struct {
	EntityID       string    `json:"entity_id"`
	Timestamp      time.Time `json:"timestamp"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	SpeedKPH       *float64  `json:"speed_kph,omitempty"`
	HeadingDeg     *float64  `json:"heading_deg,omitempty"`
}

// ViolationEvent is an immutable detected fence breach. DistanceMeters keeps
// the signed convention of geo.DistanceToBoundary: negative inside.
type ViolationEvent struct {
	ViolationID    string             `json:"violation_id"`
	EntityID       string             `json:"entity_id"`
	FenceID        string             `json:"fence_id"`
	Type           string             `json:"violation_type"`
	Timestamp      time.Time          `json:"timestamp"`
	Latitude       float64            `json:"latitude"`
	Longitude      float64            `json:"longitude"`
	DistanceMeters float64            `json:"distance_meters"`
	Severity       telemetry.Severity `json:"severity"`
	Confidence     float64            `json:"confidence"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// Status is the read-only projection of one registered fence.
type Status struct {
	FenceID      string  `json:"fence_id"`
	Name         string  `json:"name"`
	Type         string  `json:"fence_type"`
	Active       bool    `json:"active"`
	VertexCount  int     `json:"vertex_count"`
	BufferMeters float64 `json:"buffer_meters"`
	CentroidLat  float64 `json:"centroid_lat"`
	CentroidLon  float64 `json:"centroid_lon"`
}

// AnimalFenceState is one fence's view of an animal in an AnimalStatus.
type AnimalFenceState struct {
	FenceID        string  `json:"fence_id"`
	Inside         bool    `json:"inside"`
	DistanceMeters float64 `json:"distance_meters"`
}

// AnimalStatus is the read-only projection of one tracked entity.
type AnimalStatus struct {
	EntityID   string             `json:"entity_id"`
	LastSeen   time.Time          `json:"last_seen"`
	Latitude   float64            `json:"latitude"`
	Longitude  float64            `json:"longitude"`
	HistoryLen int                `json:"history_len"`
	Fences     []AnimalFenceState `json:"fences"`
}

// Engine evaluates location updates against the registered fences.
//
// Location history and cooldown keys are touched only by the shard worker
// that owns this engine. The fence set is also mutated by the fence-config
// feed, so registration and lookup go through the Registry, which has its own
// lock.
type Engine struct {
	logger    *slog.Logger
	registry  *Registry
	cooldowns CooldownStore
	history   map[string][]AnimalLocation
	now       func() time.Time
}

// NewEngine creates an engine with the given cooldown store. A nil store
// falls back to the in-memory implementation.
func NewEngine(logger *slog.Logger, registry *Registry, cooldowns CooldownStore) *Engine {
	if cooldowns == nil {
		cooldowns = NewMemoryCooldownStore()
	}
	return &Engine{
		logger:    logger,
		registry:  registry,
		cooldowns: cooldowns,
		history:   make(map[string][]AnimalLocation),
		now:       time.Now,
	}
}

// SetClock overrides the engine's wall clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// RegisterFence validates and registers (or replaces) a fence. Invalid
// configs are rejected without mutating state.
func (e *Engine) RegisterFence(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("invalid fence config: nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.registry.put(cfg)
	e.logger.Info("fence registered",
		"fence_id", cfg.FenceID,
		"fence_type", cfg.Type,
		"vertices", len(cfg.Vertices),
		"active", cfg.Active,
	)
	return nil
}

// DeactivateFence marks a fence inactive; its configuration is retained for
// status queries. Unknown fence ids are a no-op.
func (e *Engine) DeactivateFence(fenceID string) {
	if e.registry.deactivate(fenceID) {
		e.logger.Info("fence deactivated", "fence_id", fenceID)
	}
}

// ProcessLocationUpdate appends the fix to the entity's history and evaluates
// it against every active fence, returning the violations that survived the
// cooldown. Events are ordered by fence id.
func (e *Engine) ProcessLocationUpdate(loc AnimalLocation) []ViolationEvent {
	previous := e.lastFix(loc.EntityID)
	e.appendHistory(loc)

	var events []ViolationEvent
	for _, f := range e.registry.activeSorted() {
		inside := geo.PointInPolygon(loc.Latitude, loc.Longitude, f.Vertices)
		signedDist := geo.DistanceToBoundary(loc.Latitude, loc.Longitude, f.Vertices)
		dist := signedDist
		if dist < 0 {
			dist = -dist
		}

		vtype := classify(f, inside, dist)
		if vtype == "" {
			continue
		}

		key := loc.EntityID + ":" + f.FenceID
		now := e.now()
		if last, ok := e.cooldowns.LastAlert(key); ok {
			delay := time.Duration(f.NotificationDelaySeconds) * time.Second
			if now.Sub(last) < delay {
				continue
			}
		}

		ev := ViolationEvent{
			ViolationID:    violationID(loc.EntityID, f.FenceID, loc.Timestamp),
			EntityID:       loc.EntityID,
			FenceID:        f.FenceID,
			Type:           vtype,
			Timestamp:      loc.Timestamp,
			Latitude:       loc.Latitude,
			Longitude:      loc.Longitude,
			DistanceMeters: signedDist,
			Severity:       severity(vtype, dist, f.BufferMeters),
			Confidence:     confidence(loc, previous, dist),
			Metadata: map[string]any{
				"fence_name": f.Name,
				"fence_type": f.Type,
			},
		}
		events = append(events, ev)

		if err := e.cooldowns.SetLastAlert(key, now); err != nil {
			e.logger.Error("failed to record alert cooldown", "key", key, "error", err)
		}

		e.logger.Info("fence violation",
			"violation_id", ev.ViolationID,
			"entity_id", ev.EntityID,
			"fence_id", ev.FenceID,
			"violation_type", ev.Type,
			"severity", ev.Severity,
			"distance_m", ev.DistanceMeters,
			"confidence", ev.Confidence,
		)
	}
	return events
}

// FenceStatus returns the projection for one fence, or false when unknown.
func (e *Engine) FenceStatus(fenceID string) (Status, bool) {
	f, ok := e.registry.get(fenceID)
	if !ok {
		return Status{}, false
	}
	lat, lon := geo.Centroid(f.Vertices)
	return Status{
		FenceID:      f.FenceID,
		Name:         f.Name,
		Type:         f.Type,
		Active:       f.Active,
		VertexCount:  len(f.Vertices),
		BufferMeters: f.BufferMeters,
		CentroidLat:  lat,
		CentroidLon:  lon,
	}, true
}

// AnimalStatus returns the projection for one tracked entity, or false when
// the engine has no history for it. The projection has no side effects.
func (e *Engine) AnimalStatus(entityID string) (AnimalStatus, bool) {
	hist := e.history[entityID]
	if len(hist) == 0 {
		return AnimalStatus{}, false
	}
	last := hist[len(hist)-1]

	st := AnimalStatus{
		EntityID:   entityID,
		LastSeen:   last.Timestamp,
		Latitude:   last.Latitude,
		Longitude:  last.Longitude,
		HistoryLen: len(hist),
	}
	for _, f := range e.registry.activeSorted() {
		st.Fences = append(st.Fences, AnimalFenceState{
			FenceID:        f.FenceID,
			Inside:         geo.PointInPolygon(last.Latitude, last.Longitude, f.Vertices),
			DistanceMeters: geo.DistanceToBoundary(last.Latitude, last.Longitude, f.Vertices),
		})
	}
	return st, true
}

// Close releases the cooldown store.
func (e *Engine) Close() error {
	return e.cooldowns.Close()
}

func (e *Engine) lastFix(entityID string) *AnimalLocation {
	hist := e.history[entityID]
	if len(hist) == 0 {
		return nil
	}
	last := hist[len(hist)-1]
	return &last
}

func (e *Engine) appendHistory(loc AnimalLocation) {
	hist := append(e.history[loc.EntityID], loc)

	cutoff := loc.Timestamp.Add(-historyRetention)
	start := 0
	for start < len(hist) && hist[start].Timestamp.Before(cutoff) {
		start++
	}
	e.history[loc.EntityID] = hist[start:]
}

// classify determines the violation type for one fence, or "" for none.
func classify(f *Config, inside bool, dist float64) string {
	switch f.Type {
	case TypeContainment:
		if !inside && f.AlertOnExit {
			return ViolationExit
		}
		if inside && dist <= f.BufferMeters {
			return ViolationApproach
		}
	case TypeExclusion:
		if inside && f.AlertOnEntry {
			return ViolationEntry
		}
		if !inside && dist <= f.BufferMeters {
			return ViolationApproach
		}
	}
	return ""
}

// severity grades entry/exit violations by how far beyond the buffer zone the
// animal is. Approach warnings are always low.
func severity(vtype string, dist, buffer float64) telemetry.Severity {
	if vtype == ViolationApproach {
		return telemetry.SeverityLow
	}
	switch {
	case dist > 3*buffer:
		return telemetry.SeverityCritical
	case dist > 2*buffer:
		return telemetry.SeverityHigh
	case dist > buffer:
		return telemetry.SeverityMedium
	default:
		return telemetry.SeverityLow
	}
}

// confidence scores how trustworthy the violation is: base 0.5, plus bonuses
// for tight GPS accuracy, a physically plausible speed since the previous
// fix, and proximity to the boundary. Clamped to [0, 1].
func confidence(loc AnimalLocation, previous *AnimalLocation, dist float64) float64 {
	score := 0.5

	if loc.AccuracyMeters != nil {
		switch acc := *loc.AccuracyMeters; {
		case acc <= 5:
			score += 0.3
		case acc <= 10:
			score += 0.2
		case acc <= 20:
			score += 0.1
		}
	}

	if previous != nil {
		dt := loc.Timestamp.Sub(previous.Timestamp).Hours()
		if dt > 0 {
			km := geo.Distance(previous.Latitude, previous.Longitude, loc.Latitude, loc.Longitude) / 1000
			speed := km / dt
			if speed <= 25 {
				score += 0.2
			}
		}
	}

	switch {
	case dist <= 5:
		score += 0.2
	case dist <= 10:
		score += 0.1
	}

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

func violationID(entityID, fenceID string, ts time.Time) string {
	name := fmt.Sprintf("%s:%s:%d", entityID, fenceID, ts.UnixNano())
	return uuid.NewSHA1(violationNamespace, []byte(name)).String()
}
