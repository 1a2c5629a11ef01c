// Package core holds the shared interfaces, configuration, and error
// types that every Aurora Pro component depends on. It has no
// dependency on any other package in this module — every other
// package (policy, audit, heartbeat, broker, llm, action, planner,
// reasoning, controlplane, input, plugin, cache, resilience,
// telemetry) imports core, never the reverse.
package core

import (
	"context"
	"time"
)

// Logger is the minimal structured logging interface used throughout
// Aurora Pro. Fields are passed as a map rather than variadic pairs so
// call sites read the same whether they log two fields or ten.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger is a Logger scoped to a named component, so logs
// can be filtered by subsystem (e.g. "llm.router", "action.executor").
type ComponentLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry is the optional tracing/metrics facade. A no-op
// implementation is always available so components never need to
// nil-check before calling it.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents one unit of traced work.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpLogger discards everything. Useful as a zero-value default and
// in tests that don't care about log output.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// NoOpTelemetry is the default Telemetry when no tracer is configured.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noOpSpan struct{}

func (noOpSpan) End()                               {}
func (noOpSpan) SetAttribute(string, interface{})   {}
func (noOpSpan) RecordError(error)                  {}

// operatorIDKey is the context key carrying the authenticated
// operator identity through a privileged call chain: Policy Gate
// checks, Audit events, and CLITask/InputTask ownership all read it
// from the same place instead of threading an extra parameter.
type operatorIDKey struct{}

// WithOperatorID attaches an operator id to ctx.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorIDKey{}, operatorID)
}

// OperatorIDFromContext returns the operator id attached to ctx, or
// "system" if none was attached — matching the AuditEvent actor
// convention in spec.md §3 ("system" or operator id).
func OperatorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(operatorIDKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}

// Clock abstracts time.Now so components can be tested with a fixed
// or simulated clock instead of sleeping in real time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
