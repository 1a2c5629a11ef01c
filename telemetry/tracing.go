package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/usephedm/aurora-pro-ai/core"
)

// OTelProvider implements core.Telemetry on top of the OpenTelemetry
// SDK. cmd/aurora does not construct one, and no component in this
// module takes a core.Telemetry, so spans exist only where a caller
// builds a provider and starts them itself.
type OTelProvider struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider

	mu       sync.Mutex
	shutdown bool
}

// ExporterProtocol picks the OTLP exporter transport.
type ExporterProtocol string

const (
	ExporterGRPC ExporterProtocol = "grpc"
	ExporterHTTP ExporterProtocol = "http"
	ExporterNone ExporterProtocol = "" // spans are recorded but not exported; useful for tests
)

// NewOTelProvider builds a tracer provider for serviceName. When
// endpoint is empty, spans are sampled and recorded in-process but
// never exported — useful in tests and for operators who haven't
// wired a collector yet.
func NewOTelProvider(serviceName, endpoint string, protocol ExporterProtocol) (*OTelProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if endpoint != "" && protocol != ExporterNone {
		exp, err := newExporter(context.Background(), endpoint, protocol)
		if err != nil {
			return nil, fmt.Errorf("telemetry: build exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	return &OTelProvider{
		tracer:   tp.Tracer(serviceName),
		provider: tp,
	}, nil
}

func newExporter(ctx context.Context, endpoint string, protocol ExporterProtocol) (sdktrace.SpanExporter, error) {
	switch protocol {
	case ExporterGRPC:
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	default:
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
}

// StartSpan implements core.Telemetry.
func (p *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric is a no-op on the tracing provider; metrics flow
// through Metrics (metrics.go) instead, keeping the two
// concerns independently swappable.
func (p *OTelProvider) RecordMetric(string, float64, map[string]string) {}

// Shutdown flushes and stops the tracer provider. Idempotent.
func (p *OTelProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil
	}
	p.shutdown = true
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.provider.Shutdown(shutdownCtx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}
