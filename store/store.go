package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/classhub/throttle/core"
)

// Kind identifies the storage family behind a backend
type Kind string

const (
	// KindLocal keeps buckets in process memory
	KindLocal Kind = "local"

	// KindNetworked keeps buckets in a shared key-value store
	KindNetworked Kind = "networked"
)

// Verdict tags whether a Decision was computed or the backend was unreachable.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictBackendUnavailable
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictBackendUnavailable:
		return "backend_unavailable"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one IsAllowed call. When Verdict is
// VerdictBackendUnavailable, Allowed and Remaining carry no information and
// Err holds the cause; the caller decides how to degrade.
type Decision struct {
	Verdict   Verdict
	Allowed   bool
	Remaining int
	Err       error
}

// Unavailable builds the Decision for a failed store round trip.
func Unavailable(err error) Decision {
	return Decision{Verdict: VerdictBackendUnavailable, Err: err}
}

// Status is a diagnostic snapshot of a backend
type Status struct {
	Kind    Kind   `json:"kind"`
	Healthy bool   `json:"healthy"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// Backend persists bucket state for one limiter. Every backend is bound to a
// single core.Config at construction.
type Backend interface {
	// IsAllowed charges one token for key if available
	IsAllowed(ctx context.Context, key string) Decision

	// Remaining reports floor(tokens) for key, or MaxTokens if never seen.
	// It never creates an entry.
	Remaining(ctx context.Context, key string) (int, error)

	// Reset forgets key so that its next check behaves as the first one
	Reset(ctx context.Context, key string) error

	// ClearAll forgets every key of this backend
	ClearAll(ctx context.Context) error

	// Size returns the number of tracked keys
	Size(ctx context.Context) (int, error)

	// Status reports health and size
	Status(ctx context.Context) Status

	// Kind reports the storage family
	Kind() Kind
}

// Factory builds the backend for a named limiter on its first use.
type Factory func(name string, config core.Config) (Backend, error)

// Option configures a backend
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

func defaultOptions() options {
	return options{
		now:     time.Now,
		logger:  slog.Default(),
		prefix:  DefaultPrefix,
		timeout: DefaultTimeout,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used for backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPrefix sets the key namespace in the external store.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithTimeout bounds every round trip to the external store.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}
