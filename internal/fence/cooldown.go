package fence

import (
	"sync"
	"time"
)

// CooldownStore tracks the last alert time per (entity, fence) pair. The
// engine only needs synchronous reads and writes; whether the data survives a
// restart is the store's concern.
type CooldownStore interface {
	// LastAlert returns the recorded last alert time for the key and whether
	// one exists.
	LastAlert(key string) (time.Time, bool)
	// SetLastAlert records the last alert time for the key.
	SetLastAlert(key string, t time.Time) error
	// Close releases any resources held by the store.
	Close() error
}

// MemoryCooldownStore keeps cooldowns in process memory. Safe for concurrent
// use; alert suppression state is lost on restart.
type MemoryCooldownStore struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

// NewMemoryCooldownStore creates an empty in-memory store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{last: make(map[string]time.Time)}
}

func (s *MemoryCooldownStore) LastAlert(key string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.last[key]
	return t, ok
}

func (s *MemoryCooldownStore) SetLastAlert(key string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[key] = t
	return nil
}

func (s *MemoryCooldownStore) Close() error {
	return nil
}
