package authsidecar

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestConsumerIdentity_Validate(t *testing.T) {
	t.Parallel()

	longHeader := strings.Repeat("a", MaxHeaderLen+1)

	tests := []struct {
		name string
		id   ConsumerIdentity
		want bool
	}{
		{name: "valid", id: ConsumerIdentity{ConsumerID: "c1", Username: "u1"}, want: true},
		{name: "empty consumer id", id: ConsumerIdentity{ConsumerID: "", Username: "u1"}, want: false},
		{name: "empty username", id: ConsumerIdentity{ConsumerID: "c1", Username: ""}, want: false},
		{name: "both empty", id: ConsumerIdentity{}, want: false},
		{name: "consumer id too long", id: ConsumerIdentity{ConsumerID: longHeader, Username: "u1"}, want: false},
		{name: "username too long", id: ConsumerIdentity{ConsumerID: "c1", Username: longHeader}, want: false},
		{name: "at max length", id: ConsumerIdentity{ConsumerID: strings.Repeat("a", MaxHeaderLen), Username: "u1"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.id.Validate()
			if got := err == nil; got != tt.want {
				t.Errorf("Validate() err = %v, want valid=%v", err, tt.want)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("Validate() err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestConsumerSecret_Matches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret *ConsumerSecret
		id     string
		want   bool
	}{
		{name: "matching", secret: &ConsumerSecret{ConsumerID: "c1"}, id: "c1", want: true},
		{name: "mismatched", secret: &ConsumerSecret{ConsumerID: "c1"}, id: "c2", want: false},
		{name: "nil secret", secret: nil, id: "c1", want: false},
		{name: "empty both", secret: &ConsumerSecret{ConsumerID: ""}, id: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.secret.Matches(tt.id); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestParseFallbackStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want FallbackStrategy
		ok   bool
	}{
		{in: "deny", want: FallbackDeny, ok: true},
		{in: "cache", want: FallbackCache, ok: true},
		{in: "graceful_degradation", want: FallbackGracefulDegradation, ok: true},
		{in: "bogus", want: FallbackDeny, ok: false},
		{in: "", want: FallbackDeny, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseFallbackStrategy(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseFallbackStrategy(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFallbackStrategy_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    FallbackStrategy
		want string
	}{
		{s: FallbackDeny, want: "deny"},
		{s: FallbackCache, want: "cache"},
		{s: FallbackGracefulDegradation, want: "graceful_degradation"},
		{s: FallbackStrategy(99), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := tt.s.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKeyForConsumer(t *testing.T) {
	t.Parallel()
	if got, want := CacheKeyForConsumer("c1"), "consumer_secret:c1"; got != want {
		t.Errorf("CacheKeyForConsumer() = %q, want %q", got, want)
	}
}

func TestContextWithRequestID_RequestIDFromContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
	}{
		{name: "non-empty", id: "req-abc-123"},
		{name: "empty string", id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := ContextWithRequestID(context.Background(), tt.id)
			if got := RequestIDFromContext(ctx); got != tt.id {
				t.Errorf("RequestIDFromContext = %q, want %q", got, tt.id)
			}
		})
	}

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		if got := RequestIDFromContext(context.Background()); got != "" {
			t.Errorf("RequestIDFromContext on bare ctx = %q, want empty", got)
		}
	})
}
