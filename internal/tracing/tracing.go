// Package tracing provides opt-in OpenTelemetry tracing for the routing
// façade: an OTLP exporter, route-named server spans, and per-attempt
// generation spans carrying provider and model attributes.
//
// When disabled, all functions are no-ops with zero overhead.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the tracing configuration. When Enabled is false, Setup
// returns a no-op shutdown and all wrappers pass through.
type Config struct {
	Enabled     bool
	Endpoint    string  // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName string  // resource service name, e.g. "promptgate"
	SampleRatio float64 // fraction of traces kept; <= 0 means keep all
}

// Setup initialises the TracerProvider with an OTLP HTTP exporter and a
// parent-based ratio sampler, and sets the global TextMapPropagator to W3C
// TraceContext + Baggage so outgoing backend calls carry trace context.
//
// The returned shutdown function must be called (typically in the server's
// Close) to flush pending spans.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // typical for local collectors
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
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

	return tp.Shutdown, nil
}

// Middleware instruments incoming requests, naming each server span after
// its method and path ("POST /api/ai/generate") instead of one opaque
// operation name. A no-op when no TracerProvider is installed.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "promptgate",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}))
	}
}

// HTTPTransport wraps a base http.RoundTripper with OTel instrumentation so
// outgoing backend calls propagate traceparent/tracestate headers. If base
// is nil, http.DefaultTransport is used.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

// StartAttempt opens a span covering one provider generation attempt.
func StartAttempt(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return otel.Tracer("promptgate.router").Start(ctx, "router.attempt",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("gen_ai.provider", provider),
			attribute.String("gen_ai.request.model", model),
		))
}

// RecordAttempt annotates an attempt span with its outcome: the generation
// error, or the estimated cost of the successful call.
func RecordAttempt(span trace.Span, err error, costUSD float64) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.Float64("gen_ai.usage.cost_usd", costUSD))
	span.SetStatus(codes.Ok, "")
}
