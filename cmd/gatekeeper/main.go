package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/api"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	generateKey  = flag.Bool("generate-key", false, "Generate an admin key and its hash, then exit")
	writeExample = flag.String("write-example", "", "Write an example configuration to the given path, then exit")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	switch {
	case *showVersion:
		fmt.Println(version.GetInfo().String())
		return
	case *generateKey:
		if err := printNewKey(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	case *writeExample != "":
		if err := config.SaveExample(*writeExample); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *writeExample)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	if cfg.Security.EnableAuth && len(cfg.Security.AdminKeys) == 0 {
		slog.Warn("Authentication enabled without admin keys; admin endpoints will reject every request")
	}

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize violation storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	activeStorage := storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	registry, err := initializeRegistry(cfg, otelProvider)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	keyFunc := ratelimit.IdentifierFromRequest(cfg.RateLimit.TrustRemoteAddr)

	fallback, err := initializeUpstream(cfg, registry, keyFunc, activeStorage)
	if err != nil {
		slog.Error("Failed to initialize upstream proxy", "error", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(registry,
		api.WithStorage(activeStorage),
		api.WithKeyFunc(keyFunc),
		api.WithVersion(ver),
	)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, cfg, fallback, routeOpts...)

	retentionCtx, stopRetention := context.WithCancel(context.Background())
	defer stopRetention()
	if cfg.Storage.Retention > 0 {
		go runRetention(retentionCtx, activeStorage, cfg.Storage.Retention, cfg.Storage.RetentionInterval)
	}

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"upstream", cfg.Upstream.URL,
			"policies", registry.Names(),
			"storage", cfg.Storage.Type)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeRegistry builds one limiter per configured policy and starts the
// cleanup janitor. Limiters are instrumented when metrics are enabled.
func initializeRegistry(cfg *models.Config, provider *observability.Provider) (*ratelimit.Registry, error) {
	policies, err := ratelimit.PoliciesFromConfig(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	var opts []ratelimit.RegistryOption
	if cfg.Metrics.Enabled {
		opts = append(opts, ratelimit.WithDecorator(observability.LimiterDecorator(provider.Meter("gatekeeper/ratelimit"))))
	}

	registry, err := ratelimit.NewRegistry(policies, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit.CleanupInterval > 0 {
		registry.StartJanitor(cfg.RateLimit.CleanupInterval)
	}
	return registry, nil
}

// initializeUpstream returns the handler for everything outside the admin
// API, or nil when no upstream is configured.
func initializeUpstream(cfg *models.Config, registry *ratelimit.Registry, keyFunc ratelimit.KeyFunc, store storage.Storage) (http.Handler, error) {
	if cfg.Upstream.URL == "" {
		slog.Warn("No upstream configured; serving the rate limit API only")
		return nil, nil
	}

	proxy, err := api.NewProxy(cfg.Upstream)
	if err != nil {
		return nil, err
	}

	if !cfg.RateLimit.Enabled {
		slog.Warn("Rate limiting disabled; proxying without admission control")
		return proxy, nil
	}

	table := api.NewRouteTable(cfg.RateLimit.Routes, cfg.RateLimit.DefaultPolicy)
	return api.NewGate(table, registry, keyFunc, proxy, ratelimit.WithViolationRecorder(store))
}

// runRetention purges violations older than retention until ctx is done.
func runRetention(ctx context.Context, store storage.Storage, retention, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	purge := func() {
		purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		cutoff := time.Now().Add(-retention)
		removed, err := store.PurgeViolations(purgeCtx, cutoff)
		if err != nil {
			slog.Error("Failed to purge violations", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("Purged expired violations", "removed", removed, "cutoff", cutoff.UTC().Format(time.RFC3339))
		}
	}

	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// printNewKey prints a fresh admin key and the hash to put in configuration.
func printNewKey() error {
	key, err := models.GenerateAPIKey()
	if err != nil {
		return err
	}
	fmt.Printf("key:      %s\n", key)
	fmt.Printf("key_hash: %s\n", models.HashAPIKey(key))
	return nil
}
