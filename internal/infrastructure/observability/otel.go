package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/clinicalcopilot"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount       metric.Int64Counter
	RequestDuration    metric.Float64Histogram
	TurnCount          metric.Int64Counter
	TurnDuration       metric.Float64Histogram
	ProviderRequests   metric.Int64Counter
	ProviderFailures   metric.Int64Counter
	ProviderDuration   metric.Float64Histogram
	FallbackDecisions  metric.Int64Counter
	BreakerTransitions metric.Int64Counter
	SessionEvictions   metric.Int64Counter
}

// Setup initializes OpenTelemetry tracing, metric export and runtime metrics
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		GetLogger().Warn().Err(err).Msg("runtime metrics disabled")
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.RequestCount, err = meter.Int64Counter("http.server.request.count",
		metric.WithDescription("Number of HTTP requests")); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.TurnCount, err = meter.Int64Counter("copilot.turn.count",
		metric.WithDescription("Number of conversation turns processed")); err != nil {
		return nil, err
	}
	if m.TurnDuration, err = meter.Float64Histogram("copilot.turn.duration",
		metric.WithDescription("Turn processing duration in milliseconds"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.ProviderRequests, err = meter.Int64Counter("copilot.provider.request.count",
		metric.WithDescription("Number of provider attempts")); err != nil {
		return nil, err
	}
	if m.ProviderFailures, err = meter.Int64Counter("copilot.provider.request.errors",
		metric.WithDescription("Number of failed provider attempts")); err != nil {
		return nil, err
	}
	if m.ProviderDuration, err = meter.Float64Histogram("copilot.provider.request.duration",
		metric.WithDescription("Provider attempt duration in milliseconds"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.FallbackDecisions, err = meter.Int64Counter("copilot.decision.fallback.count",
		metric.WithDescription("Number of decisions answered by the deterministic fallback")); err != nil {
		return nil, err
	}
	if m.BreakerTransitions, err = meter.Int64Counter("copilot.breaker.transition.count",
		metric.WithDescription("Number of circuit breaker state transitions")); err != nil {
		return nil, err
	}
	if m.SessionEvictions, err = meter.Int64Counter("copilot.session.eviction.count",
		metric.WithDescription("Number of sessions expired or evicted")); err != nil {
		return nil, err
	}

	return m, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records an HTTP request metric
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordTurn records a processed turn and its stop action
func RecordTurn(ctx context.Context, metrics *Metrics, action string, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stop.action", action))
	metrics.TurnCount.Add(ctx, 1, attrs)
	metrics.TurnDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordProviderAttempt records one provider call
func RecordProviderAttempt(ctx context.Context, metrics *Metrics, provider, kind string, duration time.Duration, err error) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("ai.provider", provider),
		attribute.String("decision.kind", kind),
	)
	metrics.ProviderRequests.Add(ctx, 1, attrs)
	metrics.ProviderDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		metrics.ProviderFailures.Add(ctx, 1, attrs)
	}
}

// RecordFallbackDecision records a decision answered by the fallback payload
func RecordFallbackDecision(ctx context.Context, metrics *Metrics, kind string) {
	if metrics == nil {
		return
	}
	metrics.FallbackDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision.kind", kind)))
}

// RecordBreakerTransition records a breaker moving between states
func RecordBreakerTransition(ctx context.Context, metrics *Metrics, id, from, to string) {
	if metrics == nil {
		return
	}
	metrics.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.id", id),
		attribute.String("breaker.from", from),
		attribute.String("breaker.to", to),
	))
}

// RecordSessionEviction records an expired or capacity-evicted session
func RecordSessionEviction(ctx context.Context, metrics *Metrics, reason string) {
	if metrics == nil {
		return
	}
	metrics.SessionEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("eviction.reason", reason)))
}
