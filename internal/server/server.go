// Package server implements the HTTP transport layer for the token
// issuance sidecar: routing, middleware, and the system endpoints that
// front C8/C9.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	"github.com/eugener/authsidecar/internal/app"
	"github.com/eugener/authsidecar/internal/cardinality"
	"github.com/eugener/authsidecar/internal/circuitbreaker"
	"github.com/eugener/authsidecar/internal/telemetry"
	"github.com/eugener/authsidecar/internal/volume"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	TokenHandler *app.TokenIssuanceHandler
	Health       *app.HealthAggregator

	Breakers    *circuitbreaker.Registry // nil = ?view=breakers answers an empty map
	Cardinality *cardinality.Governor    // nil = ?view=cardinality answers null
	Volume      *volume.Classifier       // nil = ?view=volume answers null

	Metrics        *telemetry.Metrics // nil = no Prometheus instrumentation
	MetricsHandler http.Handler       // nil = default-view /metrics answers an empty JSON object
	Tracer         trace.Tracer       // nil = no distributed tracing

	OpenAPIDoc []byte // served at "/"; nil = empty 200

	MaxBodyBytes int64 // default 10 MiB when <= 0
}

const defaultMaxBodyBytes = 10 << 20

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r := chi.NewRouter()

	r.Use(securityHeaders)
	r.Use(requestID)
	r.Use(recovery)
	r.Use(cors)
	r.Use(bodyLimit(maxBody))
	r.Use(logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.NotFound(notFoundHandler)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "Not Found", "method not allowed on this resource")
	})

	r.Get("/", handleRoot(deps.OpenAPIDoc))

	if deps.TokenHandler != nil {
		r.Get("/tokens", deps.TokenHandler.ServeHTTP)
	}

	if deps.Health != nil {
		r.Get("/health", deps.Health.Rollup)
		r.Get("/health/ready", deps.Health.Readiness)
		r.Get("/health/live", deps.Health.Liveness)
		r.Get("/health/telemetry", deps.Health.TelemetryStatus)
	}

	r.Get("/metrics", handleMetrics(metricsDeps{
		breakers:    deps.Breakers,
		cardinality: deps.Cardinality,
		volume:      deps.Volume,
		promHandler: deps.MetricsHandler,
	}))

	return r
}

// handleRoot serves the external OpenAPI document at "/", per spec.md §6 --
// the document itself is produced by an external subsystem and handed in
// as raw bytes, not generated here.
func handleRoot(doc []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if len(doc) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header()["Content-Type"] = []string{"application/json"}
		w.WriteHeader(http.StatusOK)
		w.Write(doc)
	}
}
