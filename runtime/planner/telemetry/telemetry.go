// Package telemetry provides the logging, metrics and tracing seams used by
// the planner. Production wiring delegates to goa.design/clue and
// OpenTelemetry; tests use the Noop variants.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metric names recorded by the planner.
const (
	MetricTurnStarted       = "tripcrew.turn.started"
	MetricTurnCompleted     = "tripcrew.turn.completed"
	MetricTurnFailed        = "tripcrew.turn.failed"
	MetricTurnDuration      = "tripcrew.turn.duration"
	MetricStageDuration     = "tripcrew.stage.duration"
	MetricSuspensionTimeout = "tripcrew.suspension.timeout"
	MetricSessionsEvicted   = "tripcrew.sessions.evicted"
	MetricActiveTurns       = "tripcrew.turns.active"
)

type (
	// Logger emits structured log lines as key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers and gauges. Tags are flattened
	// key/value pairs.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Set bundles the three seams so components take a single value.
	Set struct {
		Logger  Logger
		Metrics Metrics
		Tracer  Tracer
	}
)

// Clue returns a Set backed by clue logging and the global OTEL providers.
func Clue() Set {
	return Set{Logger: NewClueLogger(), Metrics: NewClueMetrics(), Tracer: NewClueTracer()}
}

// Noop returns a Set that discards everything.
func Noop() Set {
	return Set{Logger: NewNoopLogger(), Metrics: NewNoopMetrics(), Tracer: NewNoopTracer()}
}

// WithDefaults fills unset members with Noop implementations.
func (s Set) WithDefaults() Set {
	if s.Logger == nil {
		s.Logger = NewNoopLogger()
	}
	if s.Metrics == nil {
		s.Metrics = NewNoopMetrics()
	}
	if s.Tracer == nil {
		s.Tracer = NewNoopTracer()
	}
	return s
}
