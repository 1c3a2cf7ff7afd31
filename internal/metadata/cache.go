package metadata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// Lister is the slice of Repository the cache needs. It lets tests feed the
// cache without a database.
type Lister interface {
	ListAll(ctx context.Context) (map[string]telemetry.EntityMeta, error)
}

// refreshTimeout bounds one snapshot refresh. Lookups sit on the event path,
// so a hung registry connection must not stall enrichment; on timeout the
// last-known-good snapshot keeps serving.
const refreshTimeout = 5 * time.Second

// Cache is the TTL-refreshed entity metadata lookup the processor enriches
// with. A refresh failure keeps the last-known-good snapshot; a lookup miss
// returns unknown metadata, never an error. Safe for concurrent use.
type Cache struct {
	logger *slog.Logger
	lister Lister
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]telemetry.EntityMeta
	fetched time.Time
}

// NewCache creates a cache over the given lister with the given TTL.
func NewCache(logger *slog.Logger, lister Lister, ttl time.Duration) (*Cache, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if lister == nil {
		return nil, errors.New("lister cannot be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Cache{
		logger:  logger,
		lister:  lister,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]telemetry.EntityMeta),
	}, nil
}

// SetClock overrides the cache's wall clock. Tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Get returns the metadata for one entity, refreshing the snapshot first if
// the TTL has elapsed. Unknown entities yield the zero value with
// Known=false.
func (c *Cache) Get(ctx context.Context, entityID string) telemetry.EntityMeta {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[entityID]
}

// Size returns the number of cached entities.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) refreshIfStale(ctx context.Context) {
	c.mu.RLock()
	stale := c.now().Sub(c.fetched) >= c.ttl
	c.mu.RUnlock()
	if !stale {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have refreshed while we waited for the lock.
	if c.now().Sub(c.fetched) < c.ttl {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	entries, err := c.lister.ListAll(ctx)
	if err != nil {
		// Keep serving the last-known-good snapshot; bump fetched so a
		// broken registry is not hammered on every event.
		c.logger.Error("metadata refresh failed, keeping cached snapshot",
			"cached_entities", len(c.entries),
			"error", err,
		)
		c.fetched = c.now()
		return
	}

	c.entries = entries
	c.fetched = c.now()
	c.logger.Debug("metadata cache refreshed", "entities", len(entries))
}
