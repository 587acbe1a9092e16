package circuitbreaker

import (
	"sync"
	"time"
)

// Registry manages per-operation Breaker instances. "Operation" here names
// a gateway admin-API call (getConsumerSecret, createConsumerSecret,
// healthCheck, ...), not a provider -- each operation gets its own
// independent breaker and, optionally, its own Config.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	configs  map[string]Config // per-operation overrides
	fallback Config            // used for operations with no override
}

// NewRegistry creates a circuit breaker registry. fallback is used for any
// operation not present in configs.
func NewRegistry(fallback Config, configs map[string]Config) *Registry {
	if configs == nil {
		configs = make(map[string]Config)
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  configs,
		fallback: fallback,
	}
}

// Get returns the breaker for the given operation, or nil if none exists.
func (r *Registry) Get(operation string) *Breaker {
	r.mu.RLock()
	b := r.breakers[operation]
	r.mu.RUnlock()
	return b
}

// GetOrCreate returns the breaker for operation, creating one if needed.
// Uses double-check locking to minimize write-lock contention.
func (r *Registry) GetOrCreate(operation string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[operation]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[operation]; ok {
		return b
	}
	cfg, ok := r.configs[operation]
	if !ok {
		cfg = r.fallback
	}
	b = NewBreaker(cfg)
	r.breakers[operation] = b
	return b
}

// EvictStale removes breakers not used since cutoff.
// Phase 1: RLock to snapshot stale keys. Phase 2: Lock to delete them.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var staleKeys []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			staleKeys = append(staleKeys, k)
		}
	}
	r.mu.RUnlock()

	if len(staleKeys) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range staleKeys {
		if b, ok := r.breakers[k]; ok {
			if b.LastUsed().Before(cutoff) {
				delete(r.breakers, k)
				evicted++
			}
		}
	}
	return evicted
}

// Snapshot returns the state of every known breaker, keyed by operation,
// for the health/telemetry endpoint.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}
