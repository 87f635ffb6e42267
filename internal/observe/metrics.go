// Package observe provides application-wide observability primitives for
// noisefighter: OpenTelemetry metrics, tracing, trace-correlated logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so they can be scraped from
// /metrics. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all noisefighter metrics.
const meterName = "github.com/MrWong99/noisefighter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture pipeline ---

	// FramesProcessed counts frames pulled from the capture device.
	FramesProcessed metric.Int64Counter

	// FramePeak records the peak sample value of every frame.
	FramePeak metric.Int64Histogram

	// GateTransitions counts gate state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	GateTransitions metric.Int64Counter

	// Flushes counts capture runs handed to playback. Use with attribute:
	//   attribute.String("reason", "trailing"|"overflow")
	Flushes metric.Int64Counter

	// --- Playback ---

	// PlaybackDuration tracks time spent inside the playback sink.
	PlaybackDuration metric.Float64Histogram

	// PlaybackErrors counts failed playbacks. Use with attribute:
	//   attribute.String("kind", "device"|"circuit_open"|...)
	PlaybackErrors metric.Int64Counter

	// BreakerTransitions counts playback circuit breaker state changes. Use
	// with attributes: attribute.String("sink", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Recording ---

	// WAVBytesWritten counts PCM bytes appended to recordings.
	WAVBytesWritten metric.Int64Counter

	// RecordingErrors counts recording failures that disarmed the writer.
	RecordingErrors metric.Int64Counter

	// --- Drops ---

	// NotificationsDropped counts UI notifications discarded because the
	// dispatcher queue was full.
	NotificationsDropped metric.Int64Counter

	// EventsDropped counts noise events discarded because the event queue was
	// full.
	EventsDropped metric.Int64Counter

	// --- Monitor ---

	// MonitorClients tracks the number of connected WebSocket clients.
	MonitorClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// playbackBuckets defines histogram bucket boundaries (in seconds) spanning a
// single frame up to a full 10000-frame buffer (~4 minutes at 44.1 kHz).
var playbackBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 240,
}

// peakBuckets covers the positive int16 range with finer resolution near the
// typical threshold.
var peakBuckets = []float64{
	0, 1000, 2500, 5000, 7500, 10000, 15000, 20000, 25000, 30000, 32767,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture pipeline.
	if met.FramesProcessed, err = m.Int64Counter("noisefighter.frames.processed",
		metric.WithDescription("Total frames read from the capture device."),
	); err != nil {
		return nil, err
	}
	if met.FramePeak, err = m.Int64Histogram("noisefighter.frame.peak",
		metric.WithDescription("Peak sample value per frame."),
		metric.WithExplicitBucketBoundaries(peakBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GateTransitions, err = m.Int64Counter("noisefighter.gate.transitions",
		metric.WithDescription("Gate state changes by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.Flushes, err = m.Int64Counter("noisefighter.gate.flushes",
		metric.WithDescription("Capture runs handed to playback by flush reason."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.PlaybackDuration, err = m.Float64Histogram("noisefighter.playback.duration",
		metric.WithDescription("Time spent writing a captured run to the playback device."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("noisefighter.playback.errors",
		metric.WithDescription("Failed playbacks by kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("noisefighter.playback.breaker.transitions",
		metric.WithDescription("Playback circuit breaker state changes by sink and target state."),
	); err != nil {
		return nil, err
	}

	// Recording.
	if met.WAVBytesWritten, err = m.Int64Counter("noisefighter.recording.bytes",
		metric.WithDescription("PCM bytes appended to WAV recordings."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.RecordingErrors, err = m.Int64Counter("noisefighter.recording.errors",
		metric.WithDescription("Recording failures that disarmed the WAV writer."),
	); err != nil {
		return nil, err
	}

	// Drops.
	if met.NotificationsDropped, err = m.Int64Counter("noisefighter.notifications.dropped",
		metric.WithDescription("UI notifications dropped because the dispatcher queue was full."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("noisefighter.events.dropped",
		metric.WithDescription("Noise events dropped because the event queue was full."),
	); err != nil {
		return nil, err
	}

	// Monitor.
	if met.MonitorClients, err = m.Int64UpDownCounter("noisefighter.monitor.clients",
		metric.WithDescription("Number of connected WebSocket monitor clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("noisefighter.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordFrame records one processed frame and its peak.
func (m *Metrics) RecordFrame(ctx context.Context, peak int16) {
	m.FramesProcessed.Add(ctx, 1)
	m.FramePeak.Record(ctx, int64(peak))
}

// RecordGateTransition records a gate state change.
func (m *Metrics) RecordGateTransition(ctx context.Context, from, to string) {
	m.GateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordFlush records a capture run handed to playback.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.Flushes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPlaybackError records a failed playback.
func (m *Metrics) RecordPlaybackError(ctx context.Context, kind string) {
	m.PlaybackErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition records a playback circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, sink, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("to", to),
		),
	)
}
