// Package observability wires OpenTelemetry tracing and RED (rate, errors,
// duration) metrics for a moduforge-go runtime, grounded on
// core/pkg/observability/observability.go's Provider shape, trimmed to the
// exporters and metrics the runtime's dispatch path actually needs.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers for one moduforge-go
// process.
type Config struct {
	ServiceName  string
	OTLPEndpoint string // e.g. "localhost:4317"; empty disables telemetry
	Insecure     bool
	BatchTimeout time.Duration
}

// Provider owns the trace/meter providers for one process's lifetime.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger
}

// New builds a Provider. When cfg.OTLPEndpoint is empty, the returned
// Provider carries the no-op global tracer/meter (dispatch spans and
// counters still compile and run, they just go nowhere) — this is the
// common case for local demos and tests, which must not require a live
// collector.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	logger := slog.Default().With("component", "observability")
	p := &Provider{config: cfg, logger: logger}

	if cfg.OTLPEndpoint == "" {
		p.tracer = otel.Tracer("moduforge")
		p.meter = otel.Meter("moduforge")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless())
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("moduforge")
	p.meter = otel.Meter("moduforge")
	logger.InfoContext(ctx, "observability initialized", "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	batchTimeout := p.config.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 5 * time.Second
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

// Tracer returns the process tracer (no-op when telemetry is disabled).
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the process meter (no-op when telemetry is disabled).
func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown drains and closes both providers, if they were started.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
			return err
		}
	}
	return nil
}
