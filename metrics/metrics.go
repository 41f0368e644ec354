package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels a rate limit decision
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeDenied   Outcome = "denied"
	OutcomeFailOpen Outcome = "fail_open"
)

// Recorder receives rate limiting events
type Recorder interface {
	RecordDecision(limiter string, outcome Outcome)
	RecordBackendError(limiter, operation string)
}

// Metrics exports rate limiting counters to Prometheus
type Metrics struct {
	decisions     *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
}

// Ensure Metrics implements Recorder interface
var _ Recorder = (*Metrics)(nil)

// NewMetrics creates the counters and registers them with reg.
// Registering twice on one registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "throttle",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by limiter and outcome.",
	}, []string{"limiter", "outcome"})

	backendErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "throttle",
		Name:      "backend_errors_total",
		Help:      "Storage backend failures by limiter and operation.",
	}, []string{"limiter", "operation"})

	var err error
	if decisions, err = register(reg, decisions); err != nil {
		return nil, err
	}
	if backendErrors, err = register(reg, backendErrors); err != nil {
		return nil, err
	}

	return &Metrics{decisions: decisions, backendErrors: backendErrors}, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// RecordDecision counts one decision
func (m *Metrics) RecordDecision(limiter string, outcome Outcome) {
	m.decisions.WithLabelValues(limiter, string(outcome)).Inc()
}

// RecordBackendError counts one failed backend operation
func (m *Metrics) RecordBackendError(limiter, operation string) {
	m.backendErrors.WithLabelValues(limiter, operation).Inc()
}
