package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/pasturelabs/herdwatch/internal/fence"
	"github.com/pasturelabs/herdwatch/internal/geo"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// Repository reads the herd registry. All methods are safe for concurrent
// use; gorm handles connection pooling underneath.
type Repository struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewRepository creates a repository over an open database handle.
func NewRepository(logger *slog.Logger, db *gorm.DB) (*Repository, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &Repository{logger: logger, db: db}, nil
}

// Lookup returns the metadata for one entity. A missing entity yields the
// zero value with Known=false, not an error; errors are real DB failures.
func (r *Repository) Lookup(ctx context.Context, entityID string) (telemetry.EntityMeta, error) {
	var animal Animal
	err := r.db.WithContext(ctx).Where("animal_id = ?", entityID).First(&animal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return telemetry.EntityMeta{}, nil
		}
		return telemetry.EntityMeta{}, fmt.Errorf("failed to look up entity %s: %w", entityID, err)
	}
	return metaFromAnimal(&animal), nil
}

// ListAll returns the metadata for every registered animal, keyed by entity
// id. Used for the TTL cache refresh.
func (r *Repository) ListAll(ctx context.Context) (map[string]telemetry.EntityMeta, error) {
	var animals []Animal
	if err := r.db.WithContext(ctx).Find(&animals).Error; err != nil {
		return nil, fmt.Errorf("failed to list animals: %w", err)
	}

	out := make(map[string]telemetry.EntityMeta, len(animals))
	for i := range animals {
		out[animals[i].AnimalID] = metaFromAnimal(&animals[i])
	}
	return out, nil
}

// ActiveFences loads every active fence definition from the registry. Records
// that fail validation are skipped with a log so one bad row cannot block
// startup.
func (r *Repository) ActiveFences(ctx context.Context) ([]*fence.Config, error) {
	var records []FenceRecord
	if err := r.db.WithContext(ctx).Where("active = ?", true).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load fence configs: %w", err)
	}

	out := make([]*fence.Config, 0, len(records))
	for i := range records {
		cfg, err := fenceFromRecord(&records[i])
		if err != nil {
			r.logger.Error("skipping unusable fence record",
				"fence_id", records[i].FenceID,
				"error", err,
			)
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// SaveFence upserts one fence definition, keyed by fence id.
func (r *Repository) SaveFence(ctx context.Context, cfg *fence.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	vertices, err := json.Marshal(cfg.Vertices)
	if err != nil {
		return fmt.Errorf("failed to encode fence vertices: %w", err)
	}

	record := FenceRecord{
		FenceID:                  cfg.FenceID,
		Name:                     cfg.Name,
		FenceType:                cfg.Type,
		VerticesJSON:             string(vertices),
		BufferMeters:             cfg.BufferMeters,
		AlertOnEntry:             cfg.AlertOnEntry,
		AlertOnExit:              cfg.AlertOnExit,
		NotificationDelaySeconds: cfg.NotificationDelaySeconds,
		Active:                   cfg.Active,
	}

	err = r.db.WithContext(ctx).
		Where("fence_id = ?", cfg.FenceID).
		Assign(record).
		FirstOrCreate(&FenceRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to save fence %s: %w", cfg.FenceID, err)
	}
	return nil
}

func metaFromAnimal(a *Animal) telemetry.EntityMeta {
	return telemetry.EntityMeta{
		FarmID:     a.FarmID,
		EntityType: a.EntityType,
		EntityName: a.Name,
		Species:    a.Species,
		Breed:      a.Breed,
		AgeMonths:  a.AgeMonths,
		Known:      true,
	}
}

func fenceFromRecord(rec *FenceRecord) (*fence.Config, error) {
	var vertices []geo.Vertex
	if err := json.Unmarshal([]byte(rec.VerticesJSON), &vertices); err != nil {
		return nil, fmt.Errorf("failed to decode fence vertices: %w", err)
	}

	cfg := &fence.Config{
		FenceID:                  rec.FenceID,
		Name:                     rec.Name,
		Vertices:                 vertices,
		Type:                     rec.FenceType,
		BufferMeters:             rec.BufferMeters,
		AlertOnEntry:             rec.AlertOnEntry,
		AlertOnExit:              rec.AlertOnExit,
		NotificationDelaySeconds: rec.NotificationDelaySeconds,
		Active:                   rec.Active,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
