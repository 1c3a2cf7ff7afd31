package fence

import (
	"sort"
	"sync"
)

// Registry is the shared set of fence configs. Shard workers read it on every
// location update while the fence-config feed mutates it, so access is
// guarded; everything else in the engine is single-owner state.
type Registry struct {
	mu     sync.RWMutex
	fences map[string]*Config
}

// NewRegistry creates an empty fence registry shared across engines.
func NewRegistry() *Registry {
	return &Registry{fences: make(map[string]*Config)}
}

func (r *Registry) put(cfg *Config) {
	c := *cfg
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fences[c.FenceID] = &c
}

func (r *Registry) get(fenceID string) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fences[fenceID]
	return f, ok
}

func (r *Registry) deactivate(fenceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fences[fenceID]
	if !ok {
		return false
	}
	f.Active = false
	return true
}

// activeSorted returns the active fences ordered by fence id, so violation
// output per update is deterministic.
func (r *Registry) activeSorted() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, 0, len(r.fences))
	for _, f := range r.fences {
		if f.Active {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FenceID < out[j].FenceID })
	return out
}

// Count returns how many fences are registered and how many are active.
func (r *Registry) Count() (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.fences)
	for _, f := range r.fences {
		if f.Active {
			active++
		}
	}
	return total, active
}
