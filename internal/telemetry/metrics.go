// Package telemetry provides observability primitives for the token
// issuance sidecar.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the sidecar.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	// AuthenticationAttempts labels: result (success, header_validation_failed,
	// kong_unavailable, consumer_lookup_failed, config_error). Per spec.md §4.8.
	AuthenticationAttempts *prometheus.CounterVec
	// ConsumerRequests labels: volume (high, medium, low). Per spec.md §4.8 step 3.
	ConsumerRequests *prometheus.CounterVec
	JWTTokensIssued  prometheus.Counter
	// ConsumerLatency labels: volume. Per spec.md §4.8 step 6.
	ConsumerLatency *prometheus.HistogramVec

	StaleCacheHits   prometheus.Counter
	StaleCacheMisses prometheus.Counter

	CardinalityOverflowWarnings prometheus.Counter

	// CircuitBreakerState/Rejects are labeled by operation, not provider --
	// this sidecar keeps one breaker per named gateway operation (§4.5),
	// not one per upstream provider.
	CircuitBreakerState   *prometheus.GaugeVec  // 0=closed, 1=open, 2=half_open
	CircuitBreakerRejects *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "authsidecar",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authsidecar",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		AuthenticationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "authentication_attempts_total",
			Help:      "Total token requests by outcome.",
		}, []string{"result"}),

		ConsumerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "consumer_requests_total",
			Help:      "Total token requests by consumer volume bucket.",
		}, []string{"volume"}),

		JWTTokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "jwt_tokens_issued_total",
			Help:      "Total signed tokens issued.",
		}),

		ConsumerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "authsidecar",
			Name:      "consumer_latency_seconds",
			Help:      "Token request latency by consumer volume bucket.",
		}, []string{"volume"}),

		StaleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "stale_cache_hits_total",
			Help:      "Total stale-cache fallback hits.",
		}),

		StaleCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "stale_cache_misses_total",
			Help:      "Total stale-cache fallback misses.",
		}),

		CardinalityOverflowWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "cardinality_overflow_warnings_total",
			Help:      "Total times the cardinality governor crossed its warn threshold.",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "authsidecar",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per operation (0=closed, 1=open, 2=half_open).",
		}, []string{"operation"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authsidecar",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by an open circuit breaker.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.AuthenticationAttempts,
		m.ConsumerRequests,
		m.JWTTokensIssued,
		m.ConsumerLatency,
		m.StaleCacheHits,
		m.StaleCacheMisses,
		m.CardinalityOverflowWarnings,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
