// Package cache implements the stale-positive cache (C7): a last-known-good
// ConsumerSecret store consulted by the resilient wrapper when the gateway
// admin API's breaker is open. Two modes: Local (default, in-process) and
// Shared (HA, Redis-backed).
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	authsidecar "github.com/eugener/authsidecar/internal"
)

// entry wraps a cached secret with the time it was inserted. insertedAt is
// tracked independently of otter's own expiry bookkeeping so GetStale can
// enforce the exact "now - insertedAt <= TTL" boundary spec.md's data model
// describes, rather than otter's approximate eviction timing.
type entry struct {
	secret     authsidecar.ConsumerSecret
	insertedAt time.Time
}

// Local is an in-process stale cache backed by otter's W-TinyLFU cache.
type Local struct {
	cache *otter.Cache[string, entry]
	ttl   time.Duration

	// keys mirrors the cache's key set for the Len inspection endpoint.
	// otter's own eviction callbacks are not relied on here; keys is
	// maintained directly by Set/Delete/GetStale instead.
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewLocal creates a Local cache holding up to maxSize entries, each valid
// for ttl (the data model's staleToleranceMinutes window) after insertion.
func NewLocal(maxSize int, ttl time.Duration) (*Local, error) {
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](ttl),
	})
	if err != nil {
		return nil, err
	}
	return &Local{cache: c, ttl: ttl, keys: make(map[string]struct{})}, nil
}

// GetStale returns the cached secret for key iff it was inserted no more
// than ttl ago. Expired entries are evicted on read, not just on otter's
// own background sweep, so an immediately-subsequent read never observes a
// stale hit even if otter hasn't swept yet.
func (l *Local) GetStale(_ context.Context, key string) (authsidecar.ConsumerSecret, bool, error) {
	e, ok := l.cache.GetIfPresent(key)
	if !ok {
		l.forget(key)
		return authsidecar.ConsumerSecret{}, false, nil
	}
	if time.Since(e.insertedAt) > l.ttl {
		l.cache.Invalidate(key)
		l.forget(key)
		return authsidecar.ConsumerSecret{}, false, nil
	}
	return e.secret, true, nil
}

// Set unconditionally inserts secret under key, stamping the current time.
func (l *Local) Set(_ context.Context, key string, secret authsidecar.ConsumerSecret) {
	l.cache.Set(key, entry{secret: secret, insertedAt: time.Now()})
	l.mu.Lock()
	l.keys[key] = struct{}{}
	l.mu.Unlock()
}

// Delete removes any entry at key, preventing a stale positive after the
// upstream's authoritative answer comes back empty.
func (l *Local) Delete(_ context.Context, key string) {
	l.cache.Invalidate(key)
	l.forget(key)
}

func (l *Local) forget(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}

// Len reports the number of entries currently tracked, for the inspection
// endpoint. Shared-mode callers always report 0 per spec.md §4.7.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
