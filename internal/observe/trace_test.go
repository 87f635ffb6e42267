package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer swaps the global tracer provider for one that records into
// memory.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func attrsOf(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestStartPlayback_CarriesRunShape(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartPlayback(context.Background(), Run{
		Frames:    12,
		Bytes:     12 * 2048,
		Peak:      -300,
		Reason:    "trailing",
		Threshold: 9000,
	})
	if CorrelationID(ctx) == "" {
		t.Error("playback context has no trace ID")
	}
	EndPlayback(span, "played", nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != SpanPlayback {
		t.Errorf("name = %q, want %q", s.Name, SpanPlayback)
	}
	a := attrsOf(s)
	tests := []struct {
		key  attribute.Key
		want attribute.Value
	}{
		{AttrRunFrames, attribute.IntValue(12)},
		{AttrRunBytes, attribute.IntValue(12 * 2048)},
		{AttrRunPeak, attribute.IntValue(-300)},
		{AttrRunReason, attribute.StringValue("trailing")},
		{AttrGateThreshold, attribute.IntValue(9000)},
		{AttrPlaybackResult, attribute.StringValue("played")},
	}
	for _, tt := range tests {
		if got := a[tt.key]; got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got.Emit(), tt.want.Emit())
		}
	}
	if s.Status.Code != codes.Unset {
		t.Errorf("status = %v, want unset", s.Status.Code)
	}
}

func TestEndPlayback_Failure(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartPlayback(context.Background(), Run{Frames: 5, Reason: "overflow"})
	EndPlayback(span, "failed", errors.New("output device unplugged"))

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error || !strings.Contains(s.Status.Description, "failed") {
		t.Errorf("status = %+v, want error mentioning the outcome", s.Status)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "exception" {
		t.Errorf("events = %+v, want the recorded error", s.Events)
	}
}

func TestGateTransition_AddsEvent(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartPlayback(context.Background(), Run{Frames: 3})
	GateTransition(ctx, "playing", "idle")
	EndPlayback(span, "played", nil)

	s := exp.GetSpans()[0]
	if len(s.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(s.Events))
	}
	ev := s.Events[0]
	if ev.Name != "gate.transition" {
		t.Errorf("event name = %q", ev.Name)
	}
	got := map[attribute.Key]string{}
	for _, kv := range ev.Attributes {
		got[kv.Key] = kv.Value.AsString()
	}
	if got[AttrGateFrom] != "playing" || got[AttrGateTo] != "idle" {
		t.Errorf("event attributes = %v", got)
	}
}

func TestGateTransition_NoSpanIsNoop(t *testing.T) {
	exp := useTestTracer(t)
	GateTransition(context.Background(), "idle", "capturing")
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("spans = %d, want 0", n)
	}
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestCorrelationID_DistinctPerRun(t *testing.T) {
	useTestTracer(t)

	seen := make(map[string]bool)
	for i := range 50 {
		ctx, span := StartPlayback(context.Background(), Run{Frames: i + 1})
		cid := CorrelationID(ctx)
		EndPlayback(span, "played", nil)
		if len(cid) != 32 {
			t.Fatalf("correlation ID %q is not a 32-digit trace ID", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger_TraceAttributes(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("idle")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}
	buf.Reset()

	ctx, span := StartPlayback(context.Background(), Run{Frames: 1})
	defer EndPlayback(span, "played", nil)
	Logger(ctx).Info("playing capture run")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("log output missing trace attributes: %s", out)
	}
}
