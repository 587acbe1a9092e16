// Package app implements the token-issuance request handler and health
// aggregator -- the two components that sit directly behind the router.
package app

import (
	"encoding/json"
	"net/http"
)

// jsonCT is a pre-allocated header value slice, matching the teacher's
// convention of direct map assignment to skip Header.Set's allocation.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(body)
}
