package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	authsidecar "github.com/eugener/authsidecar/internal"
)

// Outcome is the classification of a completed gateway call, matching the
// breaker's four bucket categories.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
	// OutcomeIgnore marks a result that should not move the breaker at
	// all, e.g. a 404 that reflects a bad consumer id rather than a
	// struggling upstream.
	OutcomeIgnore Outcome = -1
)

// Classify maps a gateway-client error to an Outcome and records it on b.
// err == nil always records success. Per spec: transport errors,
// non-2xx-non-404 responses, and wall-clock timeouts all count as
// failures; NotFound (404, the operation's null result) does not.
func Classify(b *Breaker, err error) {
	switch classify(err) {
	case OutcomeSuccess:
		b.RecordSuccess()
	case OutcomeTimeout:
		b.RecordTimeout()
	case OutcomeFailure:
		b.RecordFailure()
	}
}

// classify is the pure decision function behind Classify.
func classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	// NotFound is the operation's null result (no credential on file), not
	// an upstream health signal: it must not move the breaker.
	if errors.Is(err, authsidecar.ErrNotFound) {
		return OutcomeIgnore
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return OutcomeTimeout
	}

	var he authsidecar.HTTPStatusError
	if errors.As(err, &he) {
		return classifyStatus(he.HTTPStatus())
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return OutcomeFailure
	}

	return OutcomeFailure
}

// classifyStatus returns the outcome for an HTTP status code: every
// non-2xx status other than 404 counts as a failure; 404 is the
// operation's NotFound result and must not move the breaker.
func classifyStatus(code int) Outcome {
	if code == http.StatusNotFound {
		return OutcomeIgnore
	}
	return OutcomeFailure
}
