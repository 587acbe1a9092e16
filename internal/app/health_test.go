package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eugener/authsidecar/internal/circuitbreaker"
	"github.com/eugener/authsidecar/internal/resilient"
)

type stubGateway struct {
	healthy bool
	err     error
}

func (g stubGateway) HealthCheck(context.Context) (bool, time.Duration, error) {
	return g.healthy, time.Millisecond, g.err
}

func newAggregator(gw GatewayHealthChecker) *HealthAggregator {
	reg := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), nil)
	w := resilient.New(reg, nil, nil)
	return &HealthAggregator{Gateway: gw, Wrapper: w}
}

func TestLiveness_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := newAggregator(stubGateway{healthy: false})
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadiness_HealthyGateway(t *testing.T) {
	t.Parallel()
	h := newAggregator(stubGateway{healthy: true})
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadiness_UnhealthyGateway(t *testing.T) {
	t.Parallel()
	h := newAggregator(stubGateway{healthy: false})
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRollup_DegradedWhenTelemetryUnreachable(t *testing.T) {
	t.Parallel()
	h := newAggregator(stubGateway{healthy: true})
	h.Telemetry = func(context.Context) bool { return false }

	rec := httptest.NewRecorder()
	h.Rollup(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degraded is non-fatal)", rec.Code)
	}
}

func TestRollup_UnhealthyWhenGatewayDown(t *testing.T) {
	t.Parallel()
	h := newAggregator(stubGateway{healthy: false})

	rec := httptest.NewRecorder()
	h.Rollup(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestTelemetryStatus_NotConfigured(t *testing.T) {
	t.Parallel()
	h := newAggregator(stubGateway{healthy: true})

	rec := httptest.NewRecorder()
	h.TelemetryStatus(rec, httptest.NewRequest(http.MethodGet, "/health/telemetry", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
