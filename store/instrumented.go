package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/validate"
)

const tracerName = "github.com/classhub/throttle/store"

// Instrumented wraps a Backend and records a trace span for every call.
type Instrumented struct {
	inner   Backend
	limiter string
	tracer  trace.Tracer
}

// Ensure Instrumented implements Backend interface
var _ Backend = (*Instrumented)(nil)

// NewInstrumented decorates inner with spans named "ratelimit.<operation>".
// A nil provider uses the global one.
func NewInstrumented(inner Backend, limiter string, provider trace.TracerProvider) *Instrumented {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Instrumented{
		inner:   inner,
		limiter: limiter,
		tracer:  provider.Tracer(tracerName),
	}
}

// InstrumentedFactory wraps every backend built by next.
func InstrumentedFactory(next Factory, provider trace.TracerProvider) Factory {
	return func(name string, config core.Config) (Backend, error) {
		backend, err := next(name, config)
		if err != nil {
			return nil, err
		}
		return NewInstrumented(backend, name, provider), nil
	}
}

func (s *Instrumented) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ratelimit."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("ratelimit.limiter", s.limiter),
			attribute.String("ratelimit.backend", string(s.inner.Kind())),
		}, attrs...)...),
	)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func keyAttr(key string) attribute.KeyValue {
	return attribute.String("ratelimit.key", validate.MaskKey(key))
}

func (s *Instrumented) IsAllowed(ctx context.Context, key string) Decision {
	ctx, span := s.startSpan(ctx, "is_allowed", keyAttr(key))
	d := s.inner.IsAllowed(ctx, key)
	span.SetAttributes(
		attribute.String("ratelimit.verdict", d.Verdict.String()),
		attribute.Bool("ratelimit.allowed", d.Allowed),
		attribute.Int("ratelimit.remaining", d.Remaining),
	)
	end(span, d.Err)
	return d
}

func (s *Instrumented) Remaining(ctx context.Context, key string) (int, error) {
	ctx, span := s.startSpan(ctx, "remaining", keyAttr(key))
	n, err := s.inner.Remaining(ctx, key)
	end(span, err)
	return n, err
}

func (s *Instrumented) Reset(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "reset", keyAttr(key))
	err := s.inner.Reset(ctx, key)
	end(span, err)
	return err
}

func (s *Instrumented) ClearAll(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "clear_all")
	err := s.inner.ClearAll(ctx)
	end(span, err)
	return err
}

func (s *Instrumented) Size(ctx context.Context) (int, error) {
	ctx, span := s.startSpan(ctx, "size")
	n, err := s.inner.Size(ctx)
	end(span, err)
	return n, err
}

func (s *Instrumented) Status(ctx context.Context) Status {
	return s.inner.Status(ctx)
}

func (s *Instrumented) Kind() Kind {
	return s.inner.Kind()
}

// Unwrap returns the decorated backend.
func (s *Instrumented) Unwrap() Backend {
	return s.inner
}
