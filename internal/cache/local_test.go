package cache

import (
	"context"
	"testing"
	"time"

	authsidecar "github.com/eugener/authsidecar/internal"
)

func TestLocal_SetAndGetStale(t *testing.T) {
	t.Parallel()
	l, err := NewLocal(100, time.Minute)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	secret := authsidecar.ConsumerSecret{CredentialID: "cred-1", ConsumerID: "c1"}

	l.Set(ctx, "consumer_secret:c1", secret)

	got, ok, err := l.GetStale(ctx, "consumer_secret:c1")
	if err != nil || !ok {
		t.Fatalf("GetStale = %v, %v, %v", got, ok, err)
	}
	if got.CredentialID != "cred-1" {
		t.Fatalf("got = %+v, want cred-1", got)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestLocal_GetStaleMiss(t *testing.T) {
	t.Parallel()
	l, _ := NewLocal(100, time.Minute)
	_, ok, err := l.GetStale(context.Background(), "missing")
	if ok || err != nil {
		t.Fatalf("GetStale(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestLocal_GetStaleExpires(t *testing.T) {
	t.Parallel()
	l, _ := NewLocal(100, 10*time.Millisecond)
	ctx := context.Background()
	l.Set(ctx, "k", authsidecar.ConsumerSecret{ConsumerID: "c1"})

	time.Sleep(20 * time.Millisecond)

	_, ok, _ := l.GetStale(ctx, "k")
	if ok {
		t.Fatalf("GetStale after TTL = true, want false")
	}
	if l.Len() != 0 {
		t.Fatalf("Len() after expiry = %d, want 0", l.Len())
	}
}

func TestLocal_Delete(t *testing.T) {
	t.Parallel()
	l, _ := NewLocal(100, time.Minute)
	ctx := context.Background()
	l.Set(ctx, "k", authsidecar.ConsumerSecret{ConsumerID: "c1"})
	l.Delete(ctx, "k")

	_, ok, _ := l.GetStale(ctx, "k")
	if ok {
		t.Fatalf("GetStale after Delete = true, want false")
	}
}
