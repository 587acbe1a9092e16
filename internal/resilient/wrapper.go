// Package resilient wraps gateway admin-API calls with circuit breaking,
// stale-cache fallback, and consumer-identity verification. It is the
// component every other piece of the request path calls through -- no
// handler talks to the circuit breaker registry or the gateway client
// directly.
package resilient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	authsidecar "github.com/eugener/authsidecar/internal"
	"github.com/eugener/authsidecar/internal/circuitbreaker"
)

// ConsumerSecretFetcher is the narrow capability the wrapper needs from
// C4, decoupling this package from the concrete gatewayclient.Client type.
type ConsumerSecretFetcher interface {
	GetConsumerSecret(ctx context.Context, consumerID string) (authsidecar.ConsumerSecret, error)
}

// StaleCache is the narrow capability the wrapper needs from C7, satisfied
// by both cache.Local and cache.Shared.
type StaleCache interface {
	GetStale(ctx context.Context, key string) (authsidecar.ConsumerSecret, bool, error)
	Set(ctx context.Context, key string, secret authsidecar.ConsumerSecret)
	Delete(ctx context.Context, key string)
}

// Wrapper is the resilient gateway wrapper (C6).
type Wrapper struct {
	breakers *circuitbreaker.Registry // nil disables circuit breaking entirely
	cache    StaleCache               // nil disables the "cache" fallback strategy
	policies map[string]authsidecar.OperationPolicy

	// onPollution and onFallback are metrics hooks; nil is a valid no-op.
	onPollution func(operation string)
	onFallback  func(operation string, strategy authsidecar.FallbackStrategy)
}

// Option configures a Wrapper at construction time.
type Option func(*Wrapper)

// WithPollutionHook registers a callback fired every time an anti-pollution
// mismatch is detected (telemetry wiring point).
func WithPollutionHook(fn func(operation string)) Option {
	return func(w *Wrapper) { w.onPollution = fn }
}

// WithFallbackHook registers a callback fired every time a fallback
// strategy is dispatched (telemetry wiring point).
func WithFallbackHook(fn func(operation string, strategy authsidecar.FallbackStrategy)) Option {
	return func(w *Wrapper) { w.onFallback = fn }
}

// New creates a Wrapper. Pass a nil breakers registry to disable circuit
// breaking globally (every operation calls straight through); pass a nil
// cache to disable the "cache" fallback strategy (it degrades to deny).
func New(breakers *circuitbreaker.Registry, cache StaleCache, policies map[string]authsidecar.OperationPolicy, opts ...Option) *Wrapper {
	w := &Wrapper{breakers: breakers, cache: cache, policies: policies}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Wrapper) policyFor(op string) authsidecar.OperationPolicy {
	if p, ok := w.policies[op]; ok {
		return p
	}
	return authsidecar.OperationPolicy{FallbackStrategy: authsidecar.FallbackDeny}
}

// WrapConsumerOperation implements spec.md §4.6's wrapConsumerOperation:
// breaker-gated, anti-pollution-checked, cache-fallback-aware access to one
// consumer's signing secret. Returns (nil, err) for every "null" outcome;
// err is the real underlying cause (authsidecar.ErrNotFound,
// authsidecar.ErrTransport, authsidecar.ErrCircuitOpen,
// authsidecar.ErrCachePollution) so the caller can pick the right HTTP
// status without re-deriving it. With breakers enabled, the action call is
// bounded by the operation policy's Timeout when it is positive.
func (w *Wrapper) WrapConsumerOperation(
	ctx context.Context,
	operation, consumerID string,
	action func(context.Context) (authsidecar.ConsumerSecret, error),
) (*authsidecar.ConsumerSecret, error) {
	if w.breakers == nil {
		secret, err := action(ctx)
		if err != nil {
			return nil, err
		}
		return &secret, nil
	}

	key := authsidecar.CacheKeyForConsumer(consumerID)
	policy := w.policyFor(operation)
	breaker := w.breakers.GetOrCreate(operation)

	if !breaker.Allow() {
		return w.consumerFallback(ctx, operation, consumerID, key, policy)
	}

	actx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	secret, err := action(actx)
	if err != nil {
		circuitbreaker.Classify(breaker, err)
		if errors.Is(err, authsidecar.ErrNotFound) {
			w.cacheDelete(ctx, key)
			return nil, err
		}
		if breaker.State() == circuitbreaker.StateOpen {
			return w.consumerFallback(ctx, operation, consumerID, key, policy)
		}
		return nil, err
	}

	circuitbreaker.Classify(breaker, nil)
	if !secret.Matches(consumerID) {
		w.notifyPollution(operation)
		slog.WarnContext(ctx, "consumer secret pollution detected",
			slog.String("operation", operation),
			slog.String("requested_consumer", consumerID),
			slog.String("returned_consumer", secret.ConsumerID),
		)
		return nil, authsidecar.ErrCachePollution
	}

	w.cacheSet(ctx, key, secret)
	return &secret, nil
}

// consumerFallback dispatches policy.FallbackStrategy once the breaker is
// confirmed Open (or outright rejected the call).
func (w *Wrapper) consumerFallback(ctx context.Context, operation, consumerID, key string, policy authsidecar.OperationPolicy) (*authsidecar.ConsumerSecret, error) {
	w.notifyFallback(operation, policy.FallbackStrategy)

	switch policy.FallbackStrategy {
	case authsidecar.FallbackCache:
		if w.cache == nil {
			return nil, authsidecar.ErrCircuitOpen
		}
		secret, ok, err := w.cache.GetStale(ctx, key)
		if err != nil || !ok {
			return nil, authsidecar.ErrCircuitOpen
		}
		if !secret.Matches(consumerID) {
			w.notifyPollution(operation)
			w.cacheDelete(ctx, key)
			return nil, authsidecar.ErrCachePollution
		}
		return &secret, nil
	case authsidecar.FallbackGracefulDegradation, authsidecar.FallbackDeny:
		return nil, authsidecar.ErrCircuitOpen
	default:
		return nil, authsidecar.ErrCircuitOpen
	}
}

// Degraded is the fixed shape WrapOperation returns for unrecognized
// operations under graceful_degradation, per spec.md §4.6.
type Degraded struct {
	Status    string    `json:"status"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// WrapOperation implements the general form of §4.6 for non-consumer
// operations (currently just healthCheck). degraded builds the
// operation-specific fallback value (e.g. healthCheck's
// {healthy:false,...}); pass nil to get the generic Degraded shape when T
// can hold a Degraded value (Degraded itself or an interface such as any);
// for any other T a nil degraded yields the zero T. The action call is
// bounded by the operation policy's Timeout when it is positive.
func WrapOperation[T any](ctx context.Context, w *Wrapper, operation string, action func(context.Context) (T, error), degraded func() T) (T, error) {
	var zero T
	if w.breakers == nil {
		return action(ctx)
	}

	policy := w.policyFor(operation)
	breaker := w.breakers.GetOrCreate(operation)

	if !breaker.Allow() {
		return dispatchDegraded(w, operation, policy, degraded, zero)
	}

	actx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	result, err := action(actx)
	circuitbreaker.Classify(breaker, err)
	if err != nil {
		if breaker.State() == circuitbreaker.StateOpen {
			return dispatchDegraded(w, operation, policy, degraded, zero)
		}
		return zero, err
	}
	return result, nil
}

func dispatchDegraded[T any](w *Wrapper, operation string, policy authsidecar.OperationPolicy, degraded func() T, zero T) (T, error) {
	w.notifyFallback(operation, policy.FallbackStrategy)
	switch policy.FallbackStrategy {
	case authsidecar.FallbackGracefulDegradation:
		if degraded != nil {
			return degraded(), nil
		}
		if d, ok := any(Degraded{Status: "degraded", Operation: operation, Timestamp: time.Now()}).(T); ok {
			return d, nil
		}
		return zero, nil
	default:
		return zero, authsidecar.ErrCircuitOpen
	}
}

func (w *Wrapper) cacheSet(ctx context.Context, key string, secret authsidecar.ConsumerSecret) {
	if w.cache != nil {
		w.cache.Set(ctx, key, secret)
	}
}

func (w *Wrapper) cacheDelete(ctx context.Context, key string) {
	if w.cache != nil {
		w.cache.Delete(ctx, key)
	}
}

func (w *Wrapper) notifyPollution(operation string) {
	if w.onPollution != nil {
		w.onPollution(operation)
	}
}

func (w *Wrapper) notifyFallback(operation string, strategy authsidecar.FallbackStrategy) {
	if w.onFallback != nil {
		w.onFallback(operation, strategy)
	}
}
