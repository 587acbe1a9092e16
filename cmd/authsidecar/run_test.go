package main

import (
	"testing"
	"time"

	authsidecar "github.com/eugener/authsidecar/internal"
)

func TestPolicyConfigs_ProjectsBreakerFields(t *testing.T) {
	t.Parallel()
	policies := map[string]authsidecar.OperationPolicy{
		opGetConsumerSecret: {
			Timeout:               2 * time.Second,
			ErrorThresholdPercent: 42,
			ResetTimeout:          30 * time.Second,
			VolumeThreshold:       7,
			RollingCountBuckets:   5,
			RollingCountTimeout:   time.Second,
			FallbackStrategy:      authsidecar.FallbackCache,
		},
	}

	out := policyConfigs(policies)

	cfg, ok := out[opGetConsumerSecret]
	if !ok {
		t.Fatalf("missing config for %q", opGetConsumerSecret)
	}
	if cfg.ErrorThresholdPercent != 42 || cfg.VolumeThreshold != 7 || cfg.RollingCountBuckets != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
}
