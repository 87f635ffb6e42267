package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/noisefighter"

// SpanPlayback is the name of the span covering one flushed capture run, from
// the start of playback until the gate is back in Idle.
const SpanPlayback = "noisefighter.playback"

// Span attribute keys for capture runs and gate state.
const (
	AttrRunFrames      = attribute.Key("noisefighter.run.frames")
	AttrRunBytes       = attribute.Key("noisefighter.run.bytes")
	AttrRunPeak        = attribute.Key("noisefighter.run.peak")
	AttrRunReason      = attribute.Key("noisefighter.run.reason")
	AttrGateThreshold  = attribute.Key("noisefighter.gate.threshold")
	AttrGateFrom       = attribute.Key("noisefighter.gate.from")
	AttrGateTo         = attribute.Key("noisefighter.gate.to")
	AttrPlaybackResult = attribute.Key("noisefighter.playback.outcome")
)

// Tracer returns the noisefighter tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Run describes a capture run handed to playback.
type Run struct {
	Frames    int
	Bytes     int
	Peak      int16
	Reason    string
	Threshold int
}

// StartPlayback opens a [SpanPlayback] span carrying the run's shape. Finish
// it with [EndPlayback].
func StartPlayback(ctx context.Context, r Run) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanPlayback, trace.WithAttributes(
		AttrRunFrames.Int(r.Frames),
		AttrRunBytes.Int(r.Bytes),
		AttrRunPeak.Int(int(r.Peak)),
		AttrRunReason.String(r.Reason),
		AttrGateThreshold.Int(r.Threshold),
	))
}

// EndPlayback stamps the outcome on span and ends it. A non-nil err marks the
// span as failed.
func EndPlayback(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrPlaybackResult.String(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "playback "+outcome)
	}
	span.End()
}

// GateTransition adds a gate state change as an event on the span in ctx. It
// is a no-op outside a recording span.
func GateTransition(ctx context.Context, from, to string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("gate.transition", trace.WithAttributes(
		AttrGateFrom.String(from),
		AttrGateTo.String(to),
	))
}

// CorrelationID is the trace ID of the span in ctx, or "" without one. The
// HTTP API returns it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
