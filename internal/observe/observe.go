// Package observe wires OpenTelemetry tracing and metrics for the backend.
// Exporters write to stdout; the point is a span per tool execution and
// request-level metrics without any collector dependency.
package observe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ward-ops/ward"

// Provider manages the trace and metric providers. A disabled provider is
// fully functional: every method degrades to a no-op.
type Provider struct {
	logger         *slog.Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer

	executions metric.Int64Counter
	violations metric.Int64Counter
	duration   metric.Float64Histogram
}

// New creates the provider. With enabled false no exporter is installed
// and the returned provider is inert.
func New(ctx context.Context, serviceVersion string, enabled bool, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{logger: logger.With("component", "observe")}
	if !enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("ward"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(30*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)

	p.executions, err = meter.Int64Counter("ward.tool.executions",
		metric.WithDescription("Tool executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}
	p.violations, err = meter.Int64Counter("ward.policy.violations",
		metric.WithDescription("Tool calls declined by policy"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}
	p.duration, err = meter.Float64Histogram("ward.tool.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "telemetry enabled", "service_version", serviceVersion)
	return p, nil
}

// StartExecution opens a span for one tool execution and returns a finish
// callback that records the outcome.
func (p *Provider) StartExecution(ctx context.Context, toolName, mode string) (context.Context, func(outcome string)) {
	if p.tracer == nil {
		return ctx, func(string) {}
	}

	attrs := []attribute.KeyValue{
		attribute.String("ward.tool", toolName),
		attribute.String("ward.execution_mode", mode),
	}
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "tool.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(outcome string) {
		outcomeAttrs := append(attrs, attribute.String("ward.outcome", outcome))
		p.executions.Add(ctx, 1, metric.WithAttributes(outcomeAttrs...))
		if outcome == "policy_violation" {
			p.violations.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(outcomeAttrs...))
		span.SetAttributes(attribute.String("ward.outcome", outcome))
		span.End()
	}
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
