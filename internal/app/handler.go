package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	authsidecar "github.com/eugener/authsidecar/internal"
	"github.com/eugener/authsidecar/internal/cardinality"
	"github.com/eugener/authsidecar/internal/resilient"
	"github.com/eugener/authsidecar/internal/signer"
	"github.com/eugener/authsidecar/internal/telemetry"
	"github.com/eugener/authsidecar/internal/volume"
)

// SigningConfig is the static signing configuration shared by every issued
// token; only the per-request subject and per-consumer secret vary.
type SigningConfig struct {
	Authority       string
	Audience        string
	Issuer          string
	GatewayKeyClaim string
	TTLMinutes      int
}

// HeaderConfig names the inbound headers the gateway forwards identity
// through. Defaults match spec.md §6.
type HeaderConfig struct {
	ConsumerID       string
	ConsumerUsername string
	Anonymous        string
}

// DefaultHeaderConfig returns the spec's default header names.
func DefaultHeaderConfig() HeaderConfig {
	return HeaderConfig{
		ConsumerID:       "x-consumer-id",
		ConsumerUsername: "x-consumer-username",
		Anonymous:        "x-anonymous-consumer",
	}
}

// TokenIssuanceHandler implements C8: handleTokenRequest. It owns no state
// of its own beyond its dependencies -- every invariant it enforces is
// delegated to C2/C3/C6/C1.
type TokenIssuanceHandler struct {
	Cardinality *cardinality.Governor
	Volume      *volume.Classifier
	Wrapper     *resilient.Wrapper
	Fetcher     resilient.ConsumerSecretFetcher
	Signing     SigningConfig
	Headers     HeaderConfig
	Metrics     *telemetry.Metrics
	Tracer      trace.Tracer
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// errorBody is the plain-JSON error shape spec.md §7 mandates for every
// non-404 error response: {error, requestId, timestamp}.
type errorBody struct {
	Error      string    `json:"error"`
	RequestID  string    `json:"requestId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RetryAfter int       `json:"retryAfter,omitempty"`
}

func newErrorBody(msg, reqID string) errorBody {
	return errorBody{Error: msg, RequestID: reqID, Timestamp: time.Now()}
}

// validateIdentity enforces spec.md §6's anonymous-consumer rule ahead of
// the ordinary header-shape check, so the two failure modes stay
// distinguishable to the caller.
func validateIdentity(identity authsidecar.ConsumerIdentity, anonymousHeader string) error {
	if anonymousHeader == "true" {
		return authsidecar.ErrAnonymous
	}
	return identity.Validate()
}

// headerValidationMessage maps a validateIdentity error to the response text
// spec.md §8 scenario 2 mandates; authsidecar.ErrAnonymous's own Error() text
// is lowercase, so the exact-cased literal is hardcoded here.
func headerValidationMessage(err error) string {
	if errors.Is(err, authsidecar.ErrAnonymous) {
		return "Anonymous consumers are not allowed"
	}
	return "unauthorized"
}

// ServeHTTP implements spec.md §4.8's six-step algorithm.
func (h *TokenIssuanceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := authsidecar.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = uuid.Must(uuid.NewV7()).String()
	}
	w.Header()["X-Request-Id"] = []string{reqID}

	ctx := r.Context()
	var span trace.Span
	if h.Tracer != nil {
		ctx, span = h.Tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithAttributes(attribute.String("http.request_id", reqID)))
		defer span.End()
	}

	identity := authsidecar.ConsumerIdentity{
		ConsumerID: r.Header.Get(h.Headers.ConsumerID),
		Username:   r.Header.Get(h.Headers.ConsumerUsername),
	}
	if err := validateIdentity(identity, r.Header.Get(h.Headers.Anonymous)); err != nil {
		h.countAttempt("header_validation_failed")
		writeJSON(w, http.StatusUnauthorized, newErrorBody(headerValidationMessage(err), reqID))
		return
	}

	bounded := identity.ConsumerID
	if h.Cardinality != nil {
		bounded = h.Cardinality.Bound(identity.ConsumerID)
	}
	if span != nil {
		span.SetAttributes(attribute.String("consumer.id", bounded))
	}

	var bucket volume.Bucket = volume.Low
	if h.Volume != nil {
		h.Volume.Increment(identity.ConsumerID)
		bucket = h.Volume.BucketOf(identity.ConsumerID)
	}
	h.countConsumerRequest(bucket)

	start := time.Now()
	secret, err := h.Wrapper.WrapConsumerOperation(ctx, "getConsumerSecret", identity.ConsumerID,
		func(ctx context.Context) (authsidecar.ConsumerSecret, error) {
			return h.Fetcher.GetConsumerSecret(ctx, identity.ConsumerID)
		})
	if err != nil || secret == nil {
		h.writeLookupFailure(w, reqID, err)
		return
	}

	resp, err := signer.Sign(signer.Request{
		Subject:         identity.Username,
		SigningKeyID:    secret.Key,
		SigningSecret:   secret.Secret,
		Authority:       h.Signing.Authority,
		Audience:        h.Signing.Audience,
		Issuer:          h.Signing.Issuer,
		GatewayKeyClaim: h.Signing.GatewayKeyClaim,
		TTLMinutes:      h.Signing.TTLMinutes,
	})
	if err != nil {
		h.countAttempt("config_error")
		writeJSON(w, http.StatusInternalServerError, newErrorBody("internal error", reqID))
		return
	}

	elapsed := time.Since(start)
	if h.Metrics != nil {
		h.Metrics.JWTTokensIssued.Inc()
		h.Metrics.ConsumerLatency.WithLabelValues(string(bucket)).Observe(elapsed.Seconds())
	}
	h.countAttempt("success")

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: resp.Token, ExpiresIn: resp.ExpiresIn})
}

// writeLookupFailure maps the wrapper's null-result sentinel to the HTTP
// response per spec.md §4.8 step 4.
func (h *TokenIssuanceHandler) writeLookupFailure(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, authsidecar.ErrNotFound):
		h.countAttempt("consumer_lookup_failed")
		writeJSON(w, http.StatusUnauthorized, newErrorBody("Invalid consumer credentials", reqID))
	case errors.Is(err, authsidecar.ErrTransport), errors.Is(err, authsidecar.ErrCircuitOpen), errors.Is(err, authsidecar.ErrCachePollution):
		h.countAttempt("kong_unavailable")
		w.Header()["Retry-After"] = []string{"30"}
		body := newErrorBody("Service Unavailable", reqID)
		body.RetryAfter = 30
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		h.countAttempt("kong_unavailable")
		w.Header()["Retry-After"] = []string{"30"}
		body := newErrorBody("Service Unavailable", reqID)
		body.RetryAfter = 30
		writeJSON(w, http.StatusServiceUnavailable, body)
	}
}

func (h *TokenIssuanceHandler) countAttempt(result string) {
	if h.Metrics != nil {
		h.Metrics.AuthenticationAttempts.WithLabelValues(result).Inc()
	}
}

func (h *TokenIssuanceHandler) countConsumerRequest(bucket volume.Bucket) {
	if h.Metrics != nil {
		h.Metrics.ConsumerRequests.WithLabelValues(string(bucket)).Inc()
	}
}
