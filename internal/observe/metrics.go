// Package observe provides application-wide observability primitives for
// SheetPilot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all SheetPilot
// metrics.
const meterName = "github.com/sheetpilot/sheetpilot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. The convenience methods tolerate a nil receiver
// so instrumentation can be switched off by passing a nil *Metrics around.
type Metrics struct {
	// --- Latency histograms ---

	// ModelRoundDuration tracks the latency of one full streaming model
	// round, from request to terminal event.
	ModelRoundDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// StreamEvents counts agent stream events by type.
	StreamEvents metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns tracks the number of agent turns currently streaming.
	ActiveTurns metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model
// rounds routinely take several seconds, so the upper buckets stretch past
// the defaults.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ModelRoundDuration, err = m.Float64Histogram("sheetpilot.model_round.duration",
		metric.WithDescription("Latency of one streaming model round."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("sheetpilot.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sheetpilot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StreamEvents, err = m.Int64Counter("sheetpilot.stream.events",
		metric.WithDescription("Total agent stream events by type."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("sheetpilot.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sheetpilot.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("sheetpilot.active_turns",
		metric.WithDescription("Number of agent turns currently streaming."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// statusAttr maps a success flag to the standard status attribute value.
func statusAttr(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordModelRound records the duration and outcome of one model round.
func (m *Metrics) RecordModelRound(ctx context.Context, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.ModelRoundDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", statusAttr(ok))),
	)
}

// RecordToolExecution records the duration and outcome of one tool run and
// increments the per-tool call counter.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	status := statusAttr(ok)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// CountStreamEvent increments the stream event counter for the given type.
func (m *Metrics) CountStreamEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", eventType)),
	)
}

// AddActiveTurns moves the active-turn gauge by delta (+1 on start, -1 on
// finish).
func (m *Metrics) AddActiveTurns(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveTurns.Add(ctx, delta)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
