package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classhub/throttle/api"
	"github.com/classhub/throttle/config"
	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/logging"
	"github.com/classhub/throttle/metrics"
	"github.com/classhub/throttle/pkg/throttle"
	"github.com/classhub/throttle/store"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	tracerProvider, err := setupTracing(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown tracing", "error", err)
		}
	}()

	factory, backendCloser, err := newBackendFactory(cfg.Backend, logger)
	if err != nil {
		return err
	}
	if backendCloser != nil {
		defer backendCloser.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	opts := []throttle.Option{
		throttle.WithBackendFactory(factory),
		throttle.WithLogger(logger),
		throttle.WithMetrics(recorder),
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, throttle.WithTracing(tracerProvider))
	}
	manager, err := throttle.NewManager(opts...)
	if err != nil {
		return err
	}

	policies := make(map[string]core.Config, len(cfg.Limiters))
	for _, name := range cfg.LimiterNames() {
		policy, _ := cfg.Limiter(name)
		if err := manager.Register(name, policy); err != nil {
			return err
		}
		policies[name] = policy
	}

	var routeOpts []api.RouteOption
	if cfg.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Tracing.ServiceName))
	}
	if cfg.Metrics.Enabled {
		routeOpts = append(routeOpts, api.WithHandler(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	router := api.NewRouter(api.NewHandler(manager, policies, logger), routeOpts...)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.CleanupInterval > 0 && cfg.Backend.Kind == config.BackendMemory {
		go runCleanup(ctx, manager, cfg.Server.CleanupInterval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			"addr", server.Addr,
			"backend", cfg.Backend.Kind,
			"limiters", manager.Names(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}

// newBackendFactory builds the factory for the configured backend kind. The
// closer is nil for the memory backend.
func newBackendFactory(cfg config.BackendConfig, logger *slog.Logger) (store.Factory, io.Closer, error) {
	switch cfg.Kind {
	case config.BackendRedis:
		client := store.NewRedisClient(store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			// Checks fail open until Redis is reachable
			logger.Warn("Redis not reachable at startup", "addr", cfg.Redis.Addr, "error", err)
		} else {
			logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		}

		factory := store.RedisFactory(client,
			store.WithPrefix(cfg.Redis.Prefix),
			store.WithTimeout(cfg.Redis.Timeout),
			store.WithLogger(logger),
		)
		return factory, client, nil

	default:
		logger.Warn("Using in-memory storage; each replica enforces its own quota")
		return store.MemoryFactory(), nil, nil
	}
}

func runCleanup(ctx context.Context, manager *throttle.Manager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.Cleanup(); removed > 0 {
				logger.Debug("Removed idle rate limit entries", "count", removed)
			}
		}
	}
}
