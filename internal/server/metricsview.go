package server

import (
	"encoding/json"
	"net/http"

	"github.com/eugener/authsidecar/internal/cardinality"
	"github.com/eugener/authsidecar/internal/circuitbreaker"
	"github.com/eugener/authsidecar/internal/volume"
)

// metricsDeps feeds handleMetrics, which renders the JSON operational
// snapshots selected by ?view=,
// per spec.md §4.10. With no view parameter the Prometheus exposition
// format is served instead (deps.MetricsHandler), since this sidecar is
// wired for Prometheus scraping like the teacher; ?view= adds a
// human-readable operational breakdown the scrape format can't carry
// without a PromQL query layer on top.
type metricsDeps struct {
	breakers    *circuitbreaker.Registry
	cardinality *cardinality.Governor
	volume      *volume.Classifier
	promHandler http.Handler
}

func handleMetrics(deps metricsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := r.URL.Query().Get("view")
		if view == "" {
			if deps.promHandler != nil {
				deps.promHandler.ServeHTTP(w, r)
				return
			}
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}

		switch view {
		case "breakers":
			states := map[string]string{}
			if deps.breakers != nil {
				for op, st := range deps.breakers.Snapshot() {
					states[op] = st.String()
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{"breakers": states})
		case "cardinality":
			if deps.cardinality == nil {
				writeJSON(w, http.StatusOK, map[string]any{"cardinality": nil})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cardinality": map[string]any{
				"trackedCount":     deps.cardinality.TrackedCount(),
				"limitExceeded":    deps.cardinality.LimitExceeded(),
				"overflowWarnings": deps.cardinality.OverflowWarnings(),
			}})
		case "volume":
			if deps.volume == nil {
				writeJSON(w, http.StatusOK, map[string]any{"volume": nil})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"volume": deps.volume.Stats()})
		default:
			writeError(w, r, http.StatusBadRequest, "unknown metrics view: "+view)
		}
	}
}

var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(body)
}
