package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry holds the OpenTelemetry providers set up by [setupTelemetry].
type telemetry struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
	logger *sdklog.LoggerProvider
}

// SetupTelemetry configures OTLP/HTTP export of traces, metrics, and logs to
// "endpoint" and installs the global providers. The caller must call
// Shutdown.
func setupTelemetry(ctx context.Context, endpoint string) (*telemetry, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", "cvssd"),
		attribute.String("service.version", getVersion()),
	)
	var t telemetry

	te, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry: traces: %w", err)
	}
	t.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(te),
		sdktrace.WithResource(res),
	)

	me, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("telemetry: metrics: %w", err), t.Shutdown(ctx))
	}
	t.meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(me)),
		sdkmetric.WithResource(res),
	)

	le, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("telemetry: logs: %w", err), t.Shutdown(ctx))
	}
	t.logger = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(le)),
		sdklog.WithResource(res),
	)

	otel.SetTracerProvider(t.tracer)
	otel.SetMeterProvider(t.meter)
	return &t, nil
}

// Handler returns a log handler that exports records.
func (t *telemetry) Handler() slog.Handler {
	return otelslog.NewHandler("github.com/quay/cvssd",
		otelslog.WithLoggerProvider(t.logger))
}

// Shutdown flushes and stops all the providers.
func (t *telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracer != nil {
		errs = append(errs, t.tracer.Shutdown(ctx))
	}
	if t.meter != nil {
		errs = append(errs, t.meter.Shutdown(ctx))
	}
	if t.logger != nil {
		errs = append(errs, t.logger.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
