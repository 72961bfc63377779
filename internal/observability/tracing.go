package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds configuration for tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	Exporter    string  `mapstructure:"exporter"` // stdout or otlp
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer installs a global SDK tracer provider when tracing is enabled.
// The returned function must be called on shutdown; it is a no-op when
// tracing is disabled.
func InitTracer(ctx context.Context, config TracingConfig, logger *zap.Logger) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if !config.Enabled {
		logger.Info("Tracing disabled, using no-op tracer")
		return noop, nil
	}

	exporter, err := newSpanExporter(ctx, config, os.Stdout)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.DeploymentEnvironment(config.Environment),
		),
		resource.WithProcessRuntimeName(),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to build trace resource: %w", err)
	}

	ratio := config.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing enabled",
		zap.String("exporter", config.Exporter),
		zap.String("service", config.ServiceName),
		zap.Float64("sample_ratio", ratio))

	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, config TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "otlp":
		opts := []otlptracegrpc.Option{}
		if config.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(config.Endpoint))
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", config.Exporter)
	}
}

// Tracing wraps the tracer used by the HTTP layer.
type Tracing struct {
	config TracingConfig
	tracer trace.Tracer
}

// NewTracing creates a tracing helper on the global tracer provider.
func NewTracing(config TracingConfig) *Tracing {
	return &Tracing{
		config: config,
		tracer: otel.Tracer(config.ServiceName),
	}
}

// StartSpan starts a new span for the given operation.
func (t *Tracing) StartSpan(ctx context.Context, operationName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operationName, opts...)
}

// StartSpanWithAttributes starts a new span with the given attributes.
func (t *Tracing) StartSpanWithAttributes(ctx context.Context, operationName string, attributes map[string]string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	spanOpts := append(opts, trace.WithAttributes(toAttributes(attributes)...))
	return t.tracer.Start(ctx, operationName, spanOpts...)
}

// RecordError records an error on the current span and marks it failed.
func (t *Tracing) RecordError(ctx context.Context, err error, attributes map[string]string) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(toAttributes(attributes)...))
	span.SetStatus(codes.Error, err.Error())
}

// IsEnabled returns true if tracing is enabled.
func (t *Tracing) IsEnabled() bool {
	return t.config.Enabled
}

// GetTracer returns the underlying tracer.
func (t *Tracing) GetTracer() trace.Tracer {
	return t.tracer
}

func toAttributes(attributes map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		out = append(out, attribute.String(k, v))
	}
	return out
}
