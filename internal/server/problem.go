package server

import (
	"encoding/json"
	"net/http"
	"time"

	authsidecar "github.com/eugener/authsidecar/internal"
)

// errorBody is the plain-JSON error shape spec.md §7 mandates for every
// non-404 error response: {error, requestId, timestamp}. application/
// problem+json (problem, below) is reserved for the 404 paths.
type errorBody struct {
	Error     string    `json:"error"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	body, _ := json.Marshal(errorBody{
		Error:     msg,
		RequestID: authsidecar.RequestIDFromContext(r.Context()),
		Timestamp: time.Now(),
	})
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(body)
}

// problemCT is application/problem+json per RFC 7807, pre-allocated the same
// way the teacher pre-allocates jsonCT to skip Header.Set's allocation.
var problemCT = []string{"application/problem+json"}

// problem is the RFC 7807 body shape spec.md §4.10 requires for unknown
// routes.
type problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance"`
	RequestID string `json:"requestId"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	body, _ := json.Marshal(problem{
		Type:      "about:blank",
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: authsidecar.RequestIDFromContext(r.Context()),
	})
	w.Header()["Content-Type"] = problemCT
	w.WriteHeader(status)
	w.Write(body)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, r, http.StatusNotFound, "Not Found", "the requested resource does not exist")
}
