// Package telemetry installs the OpenTelemetry tracer provider.
//
// Tracing is opt-in: without an endpoint Setup leaves the global no-op
// provider in place. With one, spans from the reconciler, the session bridge,
// the page and the identity provider are batched to an OTLP/HTTP collector,
// and the trace context is propagated to the backend on session requests.
package telemetry

import (
	"context"
	"fmt"

	"github.com/dgellow/authbridge/internal/config"
	"github.com/dgellow/authbridge/internal/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes pending spans
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup configures tracing for cfg. The returned ShutdownFunc is never nil.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return noop, fmt.Errorf("building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.LogInfoWithFields("telemetry", "Tracing enabled", map[string]any{
		"endpoint":     cfg.Endpoint,
		"service":      cfg.ServiceName,
		"sample_ratio": cfg.SampleRatio,
	})
	return tp.Shutdown, nil
}
