package app

import (
	"context"
	"net/http"
	"time"

	"github.com/eugener/authsidecar/internal/resilient"
)

// GatewayHealthChecker is the narrow capability HealthAggregator needs from
// C4, mirroring resilient.ConsumerSecretFetcher's decoupling.
type GatewayHealthChecker interface {
	HealthCheck(ctx context.Context) (healthy bool, responseTime time.Duration, err error)
}

// TelemetryChecker reports whether configured telemetry endpoints are
// reachable. A nil TelemetryChecker means no telemetry endpoints are
// configured, per spec.md §4.9's "degraded, not unhealthy" distinction.
type TelemetryChecker func(ctx context.Context) bool

// HealthAggregator implements C9: liveness, readiness, and the rollup
// status derived from the worst dependency.
type HealthAggregator struct {
	Gateway   GatewayHealthChecker
	Wrapper   *resilient.Wrapper
	Telemetry TelemetryChecker
}

type checkStatus struct {
	Status string `json:"status"`
}

type livenessBody struct {
	Status string `json:"status"`
}

type readinessBody struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]checkStatus `json:"checks,omitempty"`
}

type rollupBody struct {
	Status string                 `json:"status"`
	Checks map[string]checkStatus `json:"checks"`
}

type telemetryBody struct {
	Status string `json:"status"`
}

// Liveness always answers 200 -- reaching this handler is itself the proof
// the process can answer.
func (h *HealthAggregator) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, livenessBody{Status: "alive"})
}

// Readiness reports 200 iff the gateway health check succeeds within its
// operation budget (the "healthCheck" operation policy's Timeout, applied by
// the resilient wrapper, plus the gateway client's own one-second health
// timeout), otherwise 503.
func (h *HealthAggregator) Readiness(w http.ResponseWriter, r *http.Request) {
	healthy, _, err := h.checkGateway(r.Context())
	if err != nil || !healthy {
		writeJSON(w, http.StatusServiceUnavailable, readinessBody{
			Ready:  false,
			Checks: map[string]checkStatus{"gateway": {Status: "unhealthy"}},
		})
		return
	}
	writeJSON(w, http.StatusOK, readinessBody{Ready: true})
}

// Rollup answers spec.md §4.9's overall status: healthy iff the gateway is
// healthy and any configured telemetry endpoints are reachable. A gateway
// failure is always "unhealthy"; a telemetry-only failure is "degraded"
// since it is non-fatal to request handling.
func (h *HealthAggregator) Rollup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gatewayHealthy, _, err := h.checkGateway(ctx)
	gatewayUnhealthy := err != nil || !gatewayHealthy

	checks := map[string]checkStatus{}
	if gatewayUnhealthy {
		checks["gateway"] = checkStatus{Status: "unhealthy"}
	} else {
		checks["gateway"] = checkStatus{Status: "healthy"}
	}

	telemetryHealthy := true
	if h.Telemetry != nil {
		telemetryHealthy = h.Telemetry(ctx)
		if telemetryHealthy {
			checks["telemetry"] = checkStatus{Status: "healthy"}
		} else {
			checks["telemetry"] = checkStatus{Status: "unhealthy"}
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case gatewayUnhealthy:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case !telemetryHealthy:
		status = "degraded"
	}

	writeJSON(w, httpStatus, rollupBody{Status: status, Checks: checks})
}

// TelemetryStatus reports whether configured telemetry endpoints are
// reachable, independent of the rollup's pass/fail framing.
func (h *HealthAggregator) TelemetryStatus(w http.ResponseWriter, r *http.Request) {
	if h.Telemetry == nil {
		writeJSON(w, http.StatusOK, telemetryBody{Status: "not_configured"})
		return
	}
	if h.Telemetry(r.Context()) {
		writeJSON(w, http.StatusOK, telemetryBody{Status: "healthy"})
		return
	}
	writeJSON(w, http.StatusOK, telemetryBody{Status: "unhealthy"})
}

// checkGateway runs the gateway health check through the resilient wrapper
// under the "healthCheck" operation breaker, so a flapping gateway trips
// readiness/rollup the same way it trips token issuance.
func (h *HealthAggregator) checkGateway(ctx context.Context) (bool, time.Duration, error) {
	type result struct {
		healthy bool
		elapsed time.Duration
	}
	degraded := func() result { return result{healthy: false} }

	r, err := resilient.WrapOperation(ctx, h.Wrapper, "healthCheck",
		func(ctx context.Context) (result, error) {
			healthy, elapsed, err := h.Gateway.HealthCheck(ctx)
			if err != nil {
				return result{}, err
			}
			return result{healthy: healthy, elapsed: elapsed}, nil
		}, degraded)
	if err != nil {
		return false, 0, err
	}
	return r.healthy, r.elapsed, nil
}
