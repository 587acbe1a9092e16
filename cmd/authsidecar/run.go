package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	authsidecar "github.com/eugener/authsidecar/internal"
	"github.com/eugener/authsidecar/internal/app"
	"github.com/eugener/authsidecar/internal/cache"
	"github.com/eugener/authsidecar/internal/cardinality"
	"github.com/eugener/authsidecar/internal/circuitbreaker"
	"github.com/eugener/authsidecar/internal/cloudauth"
	"github.com/eugener/authsidecar/internal/config"
	"github.com/eugener/authsidecar/internal/gatewayclient"
	"github.com/eugener/authsidecar/internal/resilient"
	"github.com/eugener/authsidecar/internal/server"
	"github.com/eugener/authsidecar/internal/telemetry"
	"github.com/eugener/authsidecar/internal/volume"
	"github.com/eugener/authsidecar/internal/worker"

	"go.opentelemetry.io/otel/trace"
)

// operations named in the admin-API surface, mirroring §4.6's policy map.
const (
	opGetConsumerSecret    = "getConsumerSecret"
	opCreateConsumerSecret = "createConsumerSecret"
	opHealthCheck          = "healthCheck"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.Info("starting authsidecar", "version", version, "addr", cfg.Addr)

	defaultPolicies := map[string]authsidecar.OperationPolicy{
		opGetConsumerSecret: {
			Timeout:               3000 * time.Millisecond,
			ErrorThresholdPercent: 50,
			ResetTimeout:          60000 * time.Millisecond,
			VolumeThreshold:       20,
			RollingCountBuckets:   10,
			RollingCountTimeout:   10 * time.Second,
			FallbackStrategy:      authsidecar.FallbackCache,
		},
		opCreateConsumerSecret: {
			Timeout:               5000 * time.Millisecond,
			ErrorThresholdPercent: 30,
			ResetTimeout:          120000 * time.Millisecond,
			VolumeThreshold:       20,
			RollingCountBuckets:   10,
			RollingCountTimeout:   10 * time.Second,
			FallbackStrategy:      authsidecar.FallbackDeny,
		},
		opHealthCheck: {
			Timeout:               1000 * time.Millisecond,
			ErrorThresholdPercent: 75,
			ResetTimeout:          10000 * time.Millisecond,
			VolumeThreshold:       10,
			RollingCountBuckets:   10,
			RollingCountTimeout:   10 * time.Second,
			FallbackStrategy:      authsidecar.FallbackGracefulDegradation,
		},
	}
	policies, err := config.LoadBreakerPolicies(cfg.BreakerPolicyFile, defaultPolicies)
	if err != nil {
		return err
	}

	// Shared DNS cache for the admin-API client.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	var authTransport func(http.RoundTripper) http.RoundTripper
	switch {
	case cfg.GatewayAdminToken != "":
		authTransport = func(base http.RoundTripper) http.RoundTripper {
			return &cloudauth.APIKeyTransport{
				Key:        cfg.GatewayAdminToken,
				HeaderName: "Authorization",
				Prefix:     "Bearer ",
				Base:       base,
			}
		}
	case cfg.GatewayAdminOAuth.Enabled():
		authTransport = func(base http.RoundTripper) http.RoundTripper {
			return cloudauth.NewOAuth2Transport(context.Background(), cloudauth.OAuth2Config{
				ClientID:     cfg.GatewayAdminOAuth.ClientID,
				ClientSecret: cfg.GatewayAdminOAuth.ClientSecret,
				TokenURL:     cfg.GatewayAdminOAuth.TokenURL,
			}, base)
		}
	default:
		slog.Warn("gateway admin client configured without authentication")
	}

	admin := gatewayclient.New(cfg.GatewayAdminURL, dnsResolver, authTransport)

	var breakers *circuitbreaker.Registry
	if cfg.BreakerEnabled {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), policyConfigs(policies))
	}

	staleTTL := time.Duration(cfg.StaleToleranceMinutes) * time.Minute
	var staleCache resilient.StaleCache
	if cfg.CacheHAMode {
		shared := cache.NewShared(cfg.SharedCacheURL, "", 0, staleTTL)
		defer shared.Close()
		staleCache = shared
		slog.Info("stale cache in HA mode", "url", cfg.SharedCacheURL)
	} else {
		local, err := cache.NewLocal(cfg.CardinalityMaxUnique*4, staleTTL)
		if err != nil {
			return err
		}
		staleCache = local
		slog.Info("stale cache in local mode")
	}

	// Prometheus metrics, always enabled so /metrics is always scrapable.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(promRegistry)
	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})

	wrapper := resilient.New(breakers, staleCache, policies,
		resilient.WithPollutionHook(func(operation string) {
			slog.Warn("consumer secret pollution detected", "operation", operation)
		}),
		resilient.WithFallbackHook(func(operation string, strategy authsidecar.FallbackStrategy) {
			switch strategy {
			case authsidecar.FallbackCache:
				metrics.StaleCacheHits.Inc()
			default:
				metrics.StaleCacheMisses.Inc()
			}
			if breakers != nil {
				metrics.CircuitBreakerRejects.WithLabelValues(operation).Inc()
			}
		}),
	)

	cardinalityGovernor := cardinality.New(cardinality.Config{
		MaxUnique:     cfg.CardinalityMaxUnique,
		HashBuckets:   cfg.CardinalityHashBuckets,
		WarnThreshold: 0.8,
	})
	volumeClassifier := volume.New()

	// OpenTelemetry tracing, enabled only when an OTLP endpoint is configured
	// via the standard OTel SDK env var -- no sidecar-specific toggle needed.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		shutdown, err := telemetry.SetupTracing(context.Background(), endpoint, 0.1)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("authsidecar/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	tokenHandler := &app.TokenIssuanceHandler{
		Cardinality: cardinalityGovernor,
		Volume:      volumeClassifier,
		Wrapper:     wrapper,
		Fetcher:     admin,
		Signing: app.SigningConfig{
			Authority:       cfg.SigningAuthority,
			Audience:        cfg.SigningAudience,
			Issuer:          cfg.SigningIssuer,
			GatewayKeyClaim: cfg.GatewayKeyClaim,
			TTLMinutes:      cfg.TokenTTLMinutes,
		},
		Headers: app.HeaderConfig{
			ConsumerID:       cfg.ConsumerIDHeader,
			ConsumerUsername: cfg.ConsumerUsernameHeader,
			Anonymous:        cfg.AnonymousHeader,
		},
		Metrics: metrics,
		Tracer:  tracer,
	}

	health := &app.HealthAggregator{
		Gateway: admin,
		Wrapper: wrapper,
	}

	workers := []worker.Worker{
		worker.NewResetWorker("cardinality-reset", time.Duration(cfg.CardinalityResetMinutes)*time.Minute, func() {
			cardinalityGovernor.Reset()
			slog.Info("cardinality governor reset")
		}),
		worker.NewResetWorker("volume-reset", time.Duration(cfg.VolumeResetMinutes)*time.Minute, func() {
			volumeClassifier.Reset()
			slog.Info("volume classifier reset")
		}),
	}
	runner := worker.NewRunner(workers...)

	handler := server.New(server.Deps{
		TokenHandler:   tokenHandler,
		Health:         health,
		Breakers:       breakers,
		Cardinality:    cardinalityGovernor,
		Volume:         volumeClassifier,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start background reset workers.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("authsidecar ready", "addr", cfg.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	// Stop accepting new connections and drain in-flight requests first.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	// Stop the periodic reset timers.
	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	// Breakers and caches hold no external resources beyond the shared
	// cache client, already deferred above; tear down telemetry last so
	// shutdown-path errors are still traced/logged.
	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("authsidecar stopped")
	return nil
}

// policyConfigs projects the breaker-relevant fields of each operation
// policy into a circuitbreaker.Config map, leaving Timeout and
// FallbackStrategy to the resilient wrapper.
func policyConfigs(policies map[string]authsidecar.OperationPolicy) map[string]circuitbreaker.Config {
	out := make(map[string]circuitbreaker.Config, len(policies))
	for op, p := range policies {
		out[op] = circuitbreaker.Config{
			ErrorThresholdPercent: p.ErrorThresholdPercent,
			VolumeThreshold:       p.VolumeThreshold,
			RollingCountTimeout:   p.RollingCountTimeout,
			RollingCountBuckets:   p.RollingCountBuckets,
			ResetTimeout:          p.ResetTimeout,
		}
	}
	return out
}
