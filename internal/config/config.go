// Package config loads the sidecar's configuration from environment
// variables, with an optional YAML file for per-operation breaker policy
// overrides -- the one piece of configuration too structured for a flat
// env var.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"

	authsidecar "github.com/eugener/authsidecar/internal"
)

// OAuthConfig is the optional client-credentials transport for the
// gateway admin token.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Enabled reports whether all three OAuth2 vars are set.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.TokenURL != ""
}

// Config is the sidecar's runtime configuration, per SPEC_FULL.md §6.
type Config struct {
	Addr         string
	MaxBodyBytes int64

	GatewayAdminURL   string
	GatewayAdminToken string
	GatewayAdminOAuth OAuthConfig

	ConsumerIDHeader       string
	ConsumerUsernameHeader string
	AnonymousHeader        string

	SigningAuthority string
	SigningAudience  string
	SigningIssuer    string
	GatewayKeyClaim  string
	TokenTTLMinutes  int

	StaleToleranceMinutes int
	CacheHAMode           bool
	SharedCacheURL        string

	BreakerEnabled    bool
	BreakerPolicyFile string

	CardinalityMaxUnique    int
	CardinalityHashBuckets  int
	CardinalityResetMinutes int

	VolumeResetMinutes int
}

// Load reads Config from environment variables, applying the defaults
// named in SPEC_FULL.md §6 and validating the cross-field invariants
// (SHARED_CACHE_URL required when CACHE_HA_MODE is true, GATEWAY_ADMIN_URL
// always required).
func Load() (*Config, error) {
	cfg := &Config{
		Addr:                    getEnv("ADDR", ":8080"),
		MaxBodyBytes:            10 << 20,
		GatewayAdminURL:         os.Getenv("GATEWAY_ADMIN_URL"),
		GatewayAdminToken:       os.Getenv("GATEWAY_ADMIN_TOKEN"),
		ConsumerIDHeader:        getEnv("CONSUMER_ID_HEADER", "x-consumer-id"),
		ConsumerUsernameHeader:  getEnv("CONSUMER_USERNAME_HEADER", "x-consumer-username"),
		AnonymousHeader:         getEnv("ANONYMOUS_HEADER", "x-anonymous-consumer"),
		SigningAuthority:        os.Getenv("SIGNING_AUTHORITY"),
		SigningAudience:         os.Getenv("SIGNING_AUDIENCE"),
		SigningIssuer:           os.Getenv("SIGNING_ISSUER"),
		GatewayKeyClaim:         getEnv("GATEWAY_KEY_CLAIM", "key"),
		TokenTTLMinutes:         getEnvInt("TOKEN_TTL_MINUTES", 5),
		StaleToleranceMinutes:   getEnvInt("STALE_TOLERANCE_MINUTES", 15),
		CacheHAMode:             getEnvBool("CACHE_HA_MODE", false),
		SharedCacheURL:          os.Getenv("SHARED_CACHE_URL"),
		BreakerEnabled:          getEnvBool("BREAKER_ENABLED", true),
		BreakerPolicyFile:       os.Getenv("BREAKER_POLICY_FILE"),
		CardinalityMaxUnique:    getEnvInt("CARDINALITY_MAX_UNIQUE", 1000),
		CardinalityHashBuckets:  getEnvInt("CARDINALITY_HASH_BUCKETS", 64),
		CardinalityResetMinutes: getEnvInt("CARDINALITY_RESET_MINUTES", 30),
		VolumeResetMinutes:      getEnvInt("VOLUME_RESET_MINUTES", 15),
	}

	cfg.GatewayAdminOAuth = OAuthConfig{
		ClientID:     os.Getenv("GATEWAY_ADMIN_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("GATEWAY_ADMIN_OAUTH_CLIENT_SECRET"),
		TokenURL:     os.Getenv("GATEWAY_ADMIN_OAUTH_TOKEN_URL"),
	}

	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: MAX_BODY_BYTES: %v", authsidecar.ErrConfig, err)
		}
		cfg.MaxBodyBytes = n
	}

	if cfg.GatewayAdminURL == "" {
		return nil, fmt.Errorf("%w: GATEWAY_ADMIN_URL is required", authsidecar.ErrConfig)
	}
	if cfg.CacheHAMode && cfg.SharedCacheURL == "" {
		return nil, fmt.Errorf("%w: SHARED_CACHE_URL is required when CACHE_HA_MODE=true", authsidecar.ErrConfig)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// breakerPolicyFile is the YAML shape of BREAKER_POLICY_FILE: a map of
// operation name to override. Kept separate from authsidecar.OperationPolicy
// so the domain package stays free of yaml struct tags.
type breakerPolicyFile struct {
	Operations map[string]breakerPolicyEntry `yaml:"operations"`
}

type breakerPolicyEntry struct {
	TimeoutMs             int     `yaml:"timeout_ms"`
	ErrorThresholdPercent float64 `yaml:"error_threshold_percent"`
	ResetTimeoutMs        int     `yaml:"reset_timeout_ms"`
	VolumeThreshold       int     `yaml:"volume_threshold"`
	RollingCountBuckets   int     `yaml:"rolling_count_buckets"`
	RollingCountTimeoutMs int     `yaml:"rolling_count_timeout_ms"`
	FallbackStrategy      string  `yaml:"fallback_strategy"`
}

// LoadBreakerPolicies reads path (if non-empty) and merges its overrides
// over defaults. Unset fields in an override leave the corresponding
// default field untouched, so an operator can override a single knob
// (e.g. just the fallback strategy) without restating the whole policy.
func LoadBreakerPolicies(path string, defaults map[string]authsidecar.OperationPolicy) (map[string]authsidecar.OperationPolicy, error) {
	merged := make(map[string]authsidecar.OperationPolicy, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	if path == "" {
		return merged, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read breaker policy file: %v", authsidecar.ErrConfig, err)
	}

	var file breakerPolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse breaker policy file: %v", authsidecar.ErrConfig, err)
	}

	for op, entry := range file.Operations {
		p := merged[op]
		if entry.TimeoutMs > 0 {
			p.Timeout = time.Duration(entry.TimeoutMs) * time.Millisecond
		}
		if entry.ErrorThresholdPercent > 0 {
			p.ErrorThresholdPercent = entry.ErrorThresholdPercent
		}
		if entry.ResetTimeoutMs > 0 {
			p.ResetTimeout = time.Duration(entry.ResetTimeoutMs) * time.Millisecond
		}
		if entry.VolumeThreshold > 0 {
			p.VolumeThreshold = entry.VolumeThreshold
		}
		if entry.RollingCountBuckets > 0 {
			p.RollingCountBuckets = entry.RollingCountBuckets
		}
		if entry.RollingCountTimeoutMs > 0 {
			p.RollingCountTimeout = time.Duration(entry.RollingCountTimeoutMs) * time.Millisecond
		}
		if entry.FallbackStrategy != "" {
			if fs, ok := authsidecar.ParseFallbackStrategy(entry.FallbackStrategy); ok {
				p.FallbackStrategy = fs
			}
		}
		merged[op] = p
	}

	return merged, nil
}
