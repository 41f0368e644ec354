package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classhub/throttle/cmd/demo/handlers"
	"github.com/classhub/throttle/config"
	"github.com/classhub/throttle/logging"
	"github.com/classhub/throttle/pkg/throttle"
)

// Default key extractor per limiter when the config names none
var defaultExtractors = map[string]throttle.KeyExtractor{
	throttle.LimiterOTPRequest:     throttle.ExtractEmailField("email"),
	throttle.LimiterPasswordReset:  throttle.ExtractEmailField("email"),
	throttle.LimiterSearchStudents: throttle.ExtractComposite(throttle.ExtractHeader("X-User-ID"), throttle.ExtractIPWithProxy()),
	throttle.LimiterClassJoin:      throttle.ExtractIPWithProxy(),
	throttle.LimiterAdminPIN:       throttle.ExtractComposite(throttle.ExtractHeader("X-Admin-ID"), throttle.ExtractIPWithProxy()),
}

func main() {
	port := flag.Int("port", 0, "Port to run the server on (overrides config)")
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	cfg.Logging.Format = "text"

	logger, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Demo server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	manager, err := throttle.NewManager(throttle.WithLogger(logger))
	if err != nil {
		return err
	}

	guard := func(name string) (func(http.Handler) http.Handler, error) {
		policy, err := cfg.Limiter(name)
		if err != nil {
			return nil, err
		}
		extract, err := extractorFor(cfg, name)
		if err != nil {
			return nil, err
		}
		if err := manager.Register(name, policy); err != nil {
			return nil, err
		}
		return throttle.Middleware(manager, name, policy, extract), nil
	}

	joinPolicy, err := cfg.Limiter(throttle.LimiterClassJoin)
	if err != nil {
		return err
	}
	joinKey, err := extractorFor(cfg, throttle.LimiterClassJoin)
	if err != nil {
		return err
	}

	h := handlers.New(handlers.Config{
		Manager:    manager,
		JoinPolicy: joinPolicy,
		JoinKey:    joinKey,
		Classes: map[string]handlers.Class{
			"MATH7A": {Name: "Grade 7 Mathematics", PIN: "4821"},
			"BIO101": {Name: "Introduction to Biology", PIN: "1357"},
		},
		Students: []string{"Ana Lima", "Ben Okafor", "Chen Wei", "Dana Cohen", "Eli Novak"},
		Logger:   logger,
	})

	routes := []struct {
		method  string
		path    string
		limiter string
		handler http.HandlerFunc
	}{
		{http.MethodPost, "/api/otp/request", throttle.LimiterOTPRequest, h.RequestOTP},
		{http.MethodPost, "/api/password/reset", throttle.LimiterPasswordReset, h.ResetPassword},
		{http.MethodGet, "/api/students/search", throttle.LimiterSearchStudents, h.SearchStudents},
		{http.MethodPost, "/api/classes/join", throttle.LimiterClassJoin, h.JoinClass},
		{http.MethodPost, "/api/admin/pin", throttle.LimiterAdminPIN, h.UpdateAdminPIN},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	for _, route := range routes {
		middleware, err := guard(route.limiter)
		if err != nil {
			return fmt.Errorf("route %s: %w", route.path, err)
		}
		mux.Handle(route.method+" "+route.path, middleware(route.handler))
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, `classhub throttle demo

Available endpoints:
  GET  /health               - Health check (no rate limit)
  POST /api/otp/request      - email=...            (5 per hour per email)
  POST /api/password/reset   - email=...&password=  (3 per hour per email)
  GET  /api/students/search  - ?q=...               (30 per minute per user)
  POST /api/classes/join     - code=MATH7A&pin=4821 (10 per 15 minutes per IP)
  POST /api/admin/pin        - code=...&pin=...     (20 per hour per admin)

Try it:
  curl -X POST -d email=ana@school.org http://localhost:%d/api/otp/request
  curl "http://localhost:%d/api/students/search?q=an"
`, cfg.Server.Port, cfg.Server.Port)
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepIdle(ctx, manager, cfg.Server.CleanupInterval, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Demo server forced to shutdown", "error", err)
		}
	}()

	logger.Info("Starting demo server", "addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sweepIdle drops idle in-memory buckets every interval until ctx is done.
// A non-positive interval disables it.
func sweepIdle(ctx context.Context, manager *throttle.Manager, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
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

func extractorFor(cfg *config.Config, name string) (throttle.KeyExtractor, error) {
	if spec := cfg.Limiters[name].KeyExtractor; spec != "" {
		return throttle.ParseKeyExtractorConfig(spec)
	}
	if extract, ok := defaultExtractors[name]; ok {
		return extract, nil
	}
	return throttle.ExtractIPWithProxy(), nil
}
