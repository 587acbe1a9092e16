// Package gatewayclient is a typed client for the upstream API gateway's
// admin API: resolving a consumer's signing secret and checking gateway
// reachability. It has no retry logic of its own -- retries, if any, live
// in the resilient wrapper.
package gatewayclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	authsidecar "github.com/eugener/authsidecar/internal"
)

const defaultHealthTimeout = time.Second

// Client is an admin-API client with a tuned, DNS-cached http.Client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client against baseURL. transport wraps auth (API key or
// OAuth2) around the tuned inner transport; pass nil to use one with no
// auth decoration (only useful in tests against a local admin API).
// If resolver is non-nil, outbound dials use cached DNS lookups.
func New(baseURL string, resolver *dnscache.Resolver, authTransport func(base http.RoundTripper) http.RoundTripper) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	var rt http.RoundTripper = t
	if authTransport != nil {
		rt = authTransport(t)
	}

	return &Client{baseURL: baseURL, http: &http.Client{Transport: rt}}
}

// GetConsumerSecret issues one GET to the admin API's consumer-credentials
// endpoint and parses the first JWT credential out of the response. An
// empty credential list yields authsidecar.ErrNotFound, not a transport
// error -- a consumer legitimately having no credentials is not a failure.
func (c *Client) GetConsumerSecret(ctx context.Context, consumerID string) (authsidecar.ConsumerSecret, error) {
	url := fmt.Sprintf("%s/consumers/%s/jwt", c.baseURL, consumerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return authsidecar.ConsumerSecret{}, fmt.Errorf("gatewayclient: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return authsidecar.ConsumerSecret{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return authsidecar.ConsumerSecret{}, authsidecar.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return authsidecar.ConsumerSecret{}, parseAPIError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return authsidecar.ConsumerSecret{}, fmt.Errorf("gatewayclient: read response: %w", err)
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() || !data.IsArray() || len(data.Array()) == 0 {
		return authsidecar.ConsumerSecret{}, authsidecar.ErrNotFound
	}

	first := data.Array()[0]
	secret := authsidecar.ConsumerSecret{
		CredentialID: first.Get("id").String(),
		Key:          first.Get("key").String(),
		Secret:       []byte(first.Get("secret").String()),
		ConsumerID:   first.Get("consumer.id").String(),
	}
	if secret.ConsumerID == "" {
		// Some admin API shapes nest the credential under a consumer
		// endpoint and omit the back-reference; fall back to the id we
		// requested rather than leaving the anti-pollution field empty.
		secret.ConsumerID = consumerID
	}
	return secret, nil
}

// HealthCheck reports gateway reachability with a short timeout, independent
// of the caller's context deadline (defaultHealthTimeout bounds it too).
func (c *Client) HealthCheck(ctx context.Context) (healthy bool, responseTime time.Duration, err error) {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if reqErr != nil {
		return false, 0, fmt.Errorf("gatewayclient: create request: %w", reqErr)
	}

	start := time.Now()
	resp, doErr := c.http.Do(req)
	elapsed := time.Since(start)
	if doErr != nil {
		return false, elapsed, classifyTransportErr(doErr)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return false, elapsed, parseAPIError(resp)
	}
	return true, elapsed, nil
}

// classifyTransportErr wraps a low-level http.Client.Do error (connection
// refused, DNS failure, context deadline) as authsidecar.ErrTransport so
// callers can distinguish it from a structured APIError.
func classifyTransportErr(err error) error {
	return fmt.Errorf("%w: %w", authsidecar.ErrTransport, err)
}

// APIError represents a non-2xx response from the admin API. It satisfies
// authsidecar.HTTPStatusError so circuitbreaker.Classify can weigh it.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gatewayclient: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the HTTP status code for breaker classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Unwrap lets callers distinguish transport-side from client-side faults
// per spec: 5xx and 429 classify as ErrTransport-equivalent failures via
// circuitbreaker.Classify; other 4xx wrap authsidecar.ErrClient.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == 429 {
		return authsidecar.ErrTransport
	}
	return authsidecar.ErrClient
}

func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
