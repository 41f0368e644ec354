package throttle

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/classhub/throttle/metrics"
	"github.com/classhub/throttle/store"
)

// Option is a functional option for configuring a Manager.
type Option func(*Manager) error

// WithBackendFactory sets how backends are built for new limiter names.
// If not provided, every limiter gets its own in-memory backend.
func WithBackendFactory(factory store.Factory) Option {
	return func(m *Manager) error {
		if factory == nil {
			return fmt.Errorf("%w: backend factory cannot be nil", ErrInvalidConfig)
		}
		m.factory = factory
		return nil
	}
}

// WithLogger sets the logger for fail-open and backend error events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		m.logger = logger
		return nil
	}
}

// WithMetrics sets the recorder for decisions and backend errors.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(m *Manager) error {
		if recorder == nil {
			return fmt.Errorf("%w: metrics recorder cannot be nil", ErrInvalidConfig)
		}
		m.metrics = recorder
		return nil
	}
}

// WithTracing wraps every backend with trace spans from provider.
func WithTracing(provider trace.TracerProvider) Option {
	return func(m *Manager) error {
		if provider == nil {
			return fmt.Errorf("%w: tracer provider cannot be nil", ErrInvalidConfig)
		}
		m.tracer = provider
		return nil
	}
}

// WithStatsTimeout bounds each backend call made by Stats.
// Default: 2 seconds
func WithStatsTimeout(timeout time.Duration) Option {
	return func(m *Manager) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: stats timeout must be positive", ErrInvalidConfig)
		}
		m.statsTimeout = timeout
		return nil
	}
}
