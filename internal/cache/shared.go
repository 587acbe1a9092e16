package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	authsidecar "github.com/eugener/authsidecar/internal"
)

// record is the JSON wire shape stored in Redis. insertedAt is stored
// explicitly rather than relied on to match Redis's own key TTL, so
// GetStale enforces the ttl bound itself. It is stamped with the writing
// replica's clock and compared with the reading replica's clock.
type record struct {
	Secret     authsidecar.ConsumerSecret `json:"secret"`
	InsertedAt time.Time                  `json:"insertedAt"`
}

// Shared is the HA-mode stale cache: a Redis-backed store consulted
// instead of a local map when multiple sidecar replicas must agree on
// "last known good" state. Shared-cache read failures are treated as
// misses, never as fatal, per spec.md §4.7.
type Shared struct {
	client *redis.Client
	ttl    time.Duration
}

// NewShared creates a Shared cache against a Redis instance at addr.
func NewShared(addr, password string, db int, ttl time.Duration) *Shared {
	return &Shared{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
	}
}

// GetStale fetches and validates a cached secret. Any Redis-side error
// other than a plain miss is logged at debug level; every error, a plain
// miss included, is surfaced as a miss, not an error, so the wrapper's
// fallback-cache path never fails a request merely because Redis is
// briefly unreachable.
func (s *Shared) GetStale(ctx context.Context, key string) (authsidecar.ConsumerSecret, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.DebugContext(ctx, "shared cache read failed, treating as miss", slog.String("error", err.Error()))
		}
		return authsidecar.ConsumerSecret{}, false, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.WarnContext(ctx, "shared cache entry corrupt, treating as miss", slog.String("error", err.Error()))
		return authsidecar.ConsumerSecret{}, false, nil
	}
	if time.Since(rec.InsertedAt) > s.ttl {
		return authsidecar.ConsumerSecret{}, false, nil
	}
	return rec.Secret, true, nil
}

// Set unconditionally inserts secret under key with a Redis-side TTL set
// generously past s.ttl, so the explicit insertedAt check above -- not
// Redis expiry -- is what actually governs staleness.
func (s *Shared) Set(ctx context.Context, key string, secret authsidecar.ConsumerSecret) {
	rec := record{Secret: secret, InsertedAt: time.Now()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl*2).Err(); err != nil {
		slog.DebugContext(ctx, "shared cache write failed", slog.String("error", err.Error()))
	}
}

// Delete removes any entry at key.
func (s *Shared) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		slog.DebugContext(ctx, "shared cache delete failed", slog.String("error", err.Error()))
	}
}

// Len always returns 0: shared-mode inspection endpoints never enumerate
// the remote store, per spec.md §4.7.
func (s *Shared) Len() int { return 0 }

// Close releases the underlying Redis connection pool.
func (s *Shared) Close() error { return s.client.Close() }
