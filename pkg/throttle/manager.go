package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/metrics"
	"github.com/classhub/throttle/store"
	"github.com/classhub/throttle/validate"
)

// Manager is a registry of named limiters. The first call for a name binds a
// backend and config to it for the lifetime of the Manager; later calls with
// a different config for the same name keep the original binding.
//
// Backend failures never reach callers: checks fail open and are logged.
// Only configuration errors are returned.
type Manager struct {
	factory      store.Factory
	logger       *slog.Logger
	metrics      metrics.Recorder
	tracer       trace.TracerProvider
	statsTimeout time.Duration

	mu       sync.Mutex
	limiters map[string]*limiter
}

// limiter is a name bound to its backend
type limiter struct {
	name    string
	config  core.Config
	backend store.Backend
}

// Stats describes one registered limiter
type Stats struct {
	Entries int        `json:"entries"`
	Backend store.Kind `json:"backendKind"`
}

// NewManager creates a Manager with the given options.
//
// Example:
//
//	manager, err := NewManager(
//	    WithBackendFactory(store.RedisFactory(client)),
//	    WithLogger(logger),
//	)
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		factory:      store.MemoryFactory(),
		logger:       slog.Default(),
		metrics:      metrics.Noop{},
		statsTimeout: 2 * time.Second,
		limiters:     make(map[string]*limiter),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if m.tracer != nil {
		m.factory = store.InstrumentedFactory(m.factory, m.tracer)
	}

	return m, nil
}

// resolve returns the limiter registered under name, building it on first use.
func (m *Manager) resolve(name string, config core.Config) (*limiter, error) {
	// ":" separates a limiter namespace from its keys in shared stores
	if name == "" || strings.Contains(name, ":") {
		return nil, ErrInvalidName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.limiters[name]; ok {
		return l, nil
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: limiter %q: %w", ErrInvalidConfig, name, err)
	}

	backend, err := m.factory(name, config)
	if err != nil {
		return nil, fmt.Errorf("%w: limiter %q: %w", ErrInvalidConfig, name, err)
	}

	l := &limiter{name: name, config: config, backend: backend}
	m.limiters[name] = l
	m.logger.Debug("registered rate limiter",
		"limiter", name,
		"backend", backend.Kind(),
		"max_tokens", config.MaxTokens,
		"refill_rate", config.RefillRate,
	)
	return l, nil
}

// Register binds name to config ahead of its first check. Hosts use it to
// fail fast on invalid policies at startup.
func (m *Manager) Register(name string, config core.Config) error {
	_, err := m.resolve(name, config)
	return err
}

// CheckLimit charges one token for key under the named limiter.
// When the backend is unavailable the request is allowed.
func (m *Manager) CheckLimit(ctx context.Context, name, key string, config core.Config) (core.Result, error) {
	if key == "" {
		return core.Result{}, ErrInvalidKey
	}
	l, err := m.resolve(name, config)
	if err != nil {
		return core.Result{}, err
	}

	d := l.backend.IsAllowed(ctx, key)

	switch d.Verdict {
	case store.VerdictBackendUnavailable:
		m.metrics.RecordBackendError(name, "is_allowed")
		m.metrics.RecordDecision(name, metrics.OutcomeFailOpen)
		m.logger.Warn("rate limit backend unavailable, allowing request",
			"limiter", name,
			"key", validate.MaskKey(key),
			"error", d.Err,
		)
		return core.Result{
			Allowed:   true,
			Remaining: l.config.MaxTokens,
			Limit:     l.config.MaxTokens,
		}, nil

	default:
		result := core.Result{
			Allowed:   d.Allowed,
			Remaining: d.Remaining,
			Limit:     l.config.MaxTokens,
		}
		if d.Allowed {
			m.metrics.RecordDecision(name, metrics.OutcomeAllowed)
		} else {
			result.RetryAfter = l.config.RetryAfter()
			m.metrics.RecordDecision(name, metrics.OutcomeDenied)
		}
		return result, nil
	}
}

// Remaining reports the quota left for key without consuming it. Unseen
// keys and unavailable backends report the full capacity.
func (m *Manager) Remaining(ctx context.Context, name, key string, config core.Config) (int, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	l, err := m.resolve(name, config)
	if err != nil {
		return 0, err
	}

	remaining, err := l.backend.Remaining(ctx, key)
	if err != nil {
		m.metrics.RecordBackendError(name, "remaining")
		m.logger.Warn("rate limit backend unavailable, reporting full quota",
			"limiter", name,
			"key", validate.MaskKey(key),
			"error", err,
		)
		return l.config.MaxTokens, nil
	}
	return remaining, nil
}

// Reset restores key to its never-seen state. Backend failures are logged
// and not returned.
func (m *Manager) Reset(ctx context.Context, name, key string, config core.Config) error {
	if key == "" {
		return ErrInvalidKey
	}
	l, err := m.resolve(name, config)
	if err != nil {
		return err
	}

	if err := l.backend.Reset(ctx, key); err != nil {
		m.metrics.RecordBackendError(name, "reset")
		m.logger.Warn("rate limit reset failed",
			"limiter", name,
			"key", validate.MaskKey(key),
			"error", err,
		)
	}
	return nil
}

// Stats returns entry counts and backend kinds of every registered limiter.
// A limiter whose backend cannot be counted reports zero entries.
func (m *Manager) Stats(ctx context.Context) map[string]Stats {
	stats := make(map[string]Stats)
	for _, l := range m.snapshot() {
		sizeCtx, cancel := context.WithTimeout(ctx, m.statsTimeout)
		entries, err := l.backend.Size(sizeCtx)
		cancel()
		if err != nil {
			m.metrics.RecordBackendError(l.name, "size")
			m.logger.Warn("rate limit size failed", "limiter", l.name, "error", err)
			entries = 0
		}
		stats[l.name] = Stats{Entries: entries, Backend: l.backend.Kind()}
	}
	return stats
}

// Status returns the backend status of every registered limiter.
func (m *Manager) Status(ctx context.Context) map[string]store.Status {
	statuses := make(map[string]store.Status)
	for _, l := range m.snapshot() {
		statuses[l.name] = l.backend.Status(ctx)
	}
	return statuses
}

// Names returns the registered limiter names in sorted order.
func (m *Manager) Names() []string {
	limiters := m.snapshot()
	names := make([]string, 0, len(limiters))
	for _, l := range limiters {
		names = append(names, l.name)
	}
	sort.Strings(names)
	return names
}

// Cleanup drops idle entries from backends that hold them in process memory
// and returns how many were removed. Hosts call it on their own schedule.
func (m *Manager) Cleanup() int {
	removed := 0
	for _, l := range m.snapshot() {
		if c, ok := unwrap(l.backend).(interface{ Cleanup() int }); ok {
			removed += c.Cleanup()
		}
	}
	return removed
}

func (m *Manager) snapshot() []*limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiters := make([]*limiter, 0, len(m.limiters))
	for _, l := range m.limiters {
		limiters = append(limiters, l)
	}
	return limiters
}

func unwrap(backend store.Backend) store.Backend {
	for {
		w, ok := backend.(interface{ Unwrap() store.Backend })
		if !ok {
			return backend
		}
		backend = w.Unwrap()
	}
}
