package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is the dispatch-path instrumentation surface used by every driver,
// grounded on core/pkg/observability/observability.go's OTel meter/tracer
// wiring. tracer is always set (otel.Tracer returns the registered global
// tracer, a harmless no-op when nothing configured a TracerProvider), so
// dispatchLocked can unconditionally open a span.
type Metrics struct {
	dispatchStart metric.Int64Counter
	dispatchOK    metric.Int64Counter
	dispatchErr   metric.Int64Counter
	tracer        trace.Tracer
}

// NewMetrics builds counters on meter. A nil meter yields no-op counters
// (tests and the demo command run without a configured MeterProvider).
func NewMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{tracer: otel.Tracer("moduforge.runtime")}
	if meter == nil {
		return m
	}
	m.dispatchStart, _ = meter.Int64Counter("moduforge.dispatch.start")
	m.dispatchOK, _ = meter.Int64Counter("moduforge.dispatch.ok")
	m.dispatchErr, _ = meter.Int64Counter("moduforge.dispatch.error")
	return m
}

// startSpan opens a dispatch span; callers must end it. Safe to call even
// when m is nil (returns the input context and a no-op span).
func (m *Metrics) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name)
}

func (m *Metrics) incStart(ctx context.Context) {
	if m != nil && m.dispatchStart != nil {
		m.dispatchStart.Add(ctx, 1)
	}
}

func (m *Metrics) incOK(ctx context.Context) {
	if m != nil && m.dispatchOK != nil {
		m.dispatchOK.Add(ctx, 1)
	}
}

func (m *Metrics) incErr(ctx context.Context) {
	if m != nil && m.dispatchErr != nil {
		m.dispatchErr.Add(ctx, 1)
	}
}
