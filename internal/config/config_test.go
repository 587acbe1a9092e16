package config

import (
	"errors"
	"os"
	"testing"

	authsidecar "github.com/eugener/authsidecar/internal"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_RequiresGatewayAdminURL(t *testing.T) {
	clearEnv(t, "GATEWAY_ADMIN_URL", "CACHE_HA_MODE", "SHARED_CACHE_URL")

	_, err := Load()
	if !errors.Is(err, authsidecar.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t, "CACHE_HA_MODE", "SHARED_CACHE_URL", "TOKEN_TTL_MINUTES")
	os.Setenv("GATEWAY_ADMIN_URL", "http://admin.local")
	t.Cleanup(func() { os.Unsetenv("GATEWAY_ADMIN_URL") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenTTLMinutes != 5 || cfg.GatewayKeyClaim != "key" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_HAModeRequiresSharedCacheURL(t *testing.T) {
	clearEnv(t, "SHARED_CACHE_URL")
	os.Setenv("GATEWAY_ADMIN_URL", "http://admin.local")
	os.Setenv("CACHE_HA_MODE", "true")
	t.Cleanup(func() {
		os.Unsetenv("GATEWAY_ADMIN_URL")
		os.Unsetenv("CACHE_HA_MODE")
	})

	_, err := Load()
	if !errors.Is(err, authsidecar.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestLoadBreakerPolicies_NoFileReturnsDefaults(t *testing.T) {
	defaults := map[string]authsidecar.OperationPolicy{
		"getConsumerSecret": {VolumeThreshold: 20},
	}
	merged, err := LoadBreakerPolicies("", defaults)
	if err != nil {
		t.Fatalf("LoadBreakerPolicies: %v", err)
	}
	if merged["getConsumerSecret"].VolumeThreshold != 20 {
		t.Fatalf("merged = %+v", merged)
	}
}
