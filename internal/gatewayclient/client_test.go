package gatewayclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	authsidecar "github.com/eugener/authsidecar/internal"
)

func TestGetConsumerSecret_HappyPath(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"cred-1","key":"kid-1","secret":"s3cr3t","consumer":{"id":"c1"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	secret, err := c.GetConsumerSecret(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetConsumerSecret: %v", err)
	}
	if secret.CredentialID != "cred-1" || secret.Key != "kid-1" || string(secret.Secret) != "s3cr3t" || secret.ConsumerID != "c1" {
		t.Fatalf("secret = %+v, want cred-1/kid-1/s3cr3t/c1", secret)
	}
}

func TestGetConsumerSecret_EmptyDataIsNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.GetConsumerSecret(context.Background(), "ghost")
	if !errors.Is(err, authsidecar.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetConsumerSecret_404StatusIsNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.GetConsumerSecret(context.Background(), "ghost")
	if !errors.Is(err, authsidecar.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetConsumerSecret_ServerErrorIsAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.GetConsumerSecret(context.Background(), "c1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("HTTPStatus() = %d, want 502", apiErr.HTTPStatus())
	}
	if !errors.Is(err, authsidecar.ErrTransport) {
		t.Fatalf("err = %v, want wrapping ErrTransport", err)
	}
}

func TestGetConsumerSecret_ClientErrorWrapsErrClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.GetConsumerSecret(context.Background(), "c1")
	if !errors.Is(err, authsidecar.ErrClient) {
		t.Fatalf("err = %v, want wrapping ErrClient", err)
	}
}

func TestHealthCheck_Healthy(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	healthy, _, err := c.HealthCheck(context.Background())
	if err != nil || !healthy {
		t.Fatalf("HealthCheck() = %v, %v, want true, nil", healthy, err)
	}
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	healthy, _, err := c.HealthCheck(context.Background())
	if healthy || err == nil {
		t.Fatalf("HealthCheck() = %v, %v, want false, non-nil", healthy, err)
	}
}
