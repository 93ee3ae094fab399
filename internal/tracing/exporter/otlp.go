// Package exporter provides an OpenTelemetry OTLP/HTTP tracer-provider
// wrapper scoped to session lifecycle: session start and each
// discovery tick get one span apiece (spec §4.F), rather than per-request
// spans.
package exporter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/thesamesam/dtrace-utils/internal/config"
)

type OTLPExporter struct {
	tracer  trace.Tracer
	tp      *sdktrace.TracerProvider
	enabled bool
}

func NewOTLPExporter(endpoint string) (*OTLPExporter, error) {
	if endpoint == "" {
		endpoint = config.OTLPEndpoint
	}

	ctx := context.Background()
	otlpExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("dtrace-utils-core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(otlpExporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	return &OTLPExporter{
		tp:      tp,
		tracer:  tp.Tracer("dtrace-utils-core"),
		enabled: true,
	}, nil
}

// StartSpan opens a session-lifecycle span (e.g. "session.start",
// "discovery.tick") and returns the function that ends it.
func (e *OTLPExporter) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if e == nil || !e.enabled {
		return ctx, func(error) {}
	}
	ctx, span := e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	if e != nil && e.tp != nil {
		return e.tp.Shutdown(ctx)
	}
	return nil
}
