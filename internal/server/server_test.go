package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eugener/authsidecar/internal/app"
)

func TestServer_UnknownRouteIsProblemJSON(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q, want application/problem+json", ct)
	}
	var p problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Status != 404 || p.Type != "about:blank" {
		t.Fatalf("p = %+v", p)
	}
}

func TestServer_OptionsShortCircuitsWithCORS(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/tokens", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS header")
	}
}

func TestServer_LivenessRoute(t *testing.T) {
	t.Parallel()
	h := New(Deps{Health: &app.HealthAggregator{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServer_MetricsUnknownViewIsBadRequest(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics?view=bogus", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error == "" || body.Timestamp.IsZero() {
		t.Fatalf("body = %+v", body)
	}
}

func TestServer_RootServesOpenAPIDoc(t *testing.T) {
	t.Parallel()
	doc := []byte(`{"openapi":"3.0.0"}`)
	h := New(Deps{OpenAPIDoc: doc})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != string(doc) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}
