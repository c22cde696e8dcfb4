package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// recordingHandler captures slog records for attribute assertions.
type recordingHandler struct {
	attrs   []slog.Attr
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.attrs = append(h.attrs, attrs...)
	return h
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) attrNames() map[string]bool {
	names := make(map[string]bool)
	for _, a := range h.attrs {
		names[a.Key] = true
	}
	for _, r := range h.records {
		r.Attrs(func(a slog.Attr) bool {
			names[a.Key] = true
			return true
		})
	}
	return names
}

func swapDefaultLogger(t *testing.T, h slog.Handler) {
	t.Helper()
	orig := slog.Default()
	slog.SetDefault(slog.New(h))
	t.Cleanup(func() { slog.SetDefault(orig) })
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID with no span = %q, want empty", got)
	}
}

func TestStartSpanYieldsCorrelationID(t *testing.T) {
	exp := installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "agent.turn")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID = %q, want 32 hex chars", cid)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "agent.turn" {
		t.Fatalf("recorded spans = %+v, want one named agent.turn", spans)
	}
	if spans[0].SpanContext.TraceID().String() != cid {
		t.Error("correlation ID does not match the recorded trace ID")
	}
}

func TestNestedSpansShareCorrelationID(t *testing.T) {
	installTestTracer(t)

	ctx, turn := StartSpan(context.Background(), "agent.turn")
	defer turn.End()
	tctx, tool := StartSpan(ctx, "tool.execute")
	defer tool.End()

	// Every event of one turn carries one correlation ID, however deep the
	// span tree goes.
	if CorrelationID(tctx) != CorrelationID(ctx) {
		t.Error("child span changed the correlation ID")
	}
}

func TestLoggerCarriesTraceContext(t *testing.T) {
	installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "agent.turn")
	defer span.End()

	var rec recordingHandler
	swapDefaultLogger(t, &rec)

	Logger(ctx).Info("turn started")

	if len(rec.records) != 1 {
		t.Fatalf("logged %d records, want 1", len(rec.records))
	}
	attrs := rec.attrNames()
	if !attrs["trace_id"] || !attrs["span_id"] {
		t.Errorf("log attrs = %v, want trace_id and span_id", attrs)
	}
}

func TestLoggerWithoutSpanIsPlain(t *testing.T) {
	var rec recordingHandler
	swapDefaultLogger(t, &rec)

	Logger(context.Background()).Info("startup")

	if len(rec.records) != 1 {
		t.Fatalf("logged %d records, want 1", len(rec.records))
	}
	attrs := rec.attrNames()
	if attrs["trace_id"] || attrs["span_id"] {
		t.Errorf("log attrs = %v, want no trace context outside a span", attrs)
	}
}
