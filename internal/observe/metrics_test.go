package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying attribute
// key=value, and whether it was found.
func sumWhere(t *testing.T, met *metricdata.Metrics, key, value string) (int64, bool) {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, 120)
	m.RecordFrame(ctx, 15000)
	m.RecordFrame(ctx, -40)

	rm := collect(t, reader)

	frames := findMetric(rm, "noisefighter.frames.processed")
	if frames == nil {
		t.Fatal("frames metric not found")
	}
	sum := frames.Data.(metricdata.Sum[int64])
	if got := sum.DataPoints[0].Value; got != 3 {
		t.Errorf("frames = %d, want 3", got)
	}

	peak := findMetric(rm, "noisefighter.frame.peak")
	if peak == nil {
		t.Fatal("peak metric not found")
	}
	hist, ok := peak.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("peak is not an int64 histogram")
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("peak samples = %d, want 3", got)
	}
	if got, _ := hist.DataPoints[0].Max.Value(); got != 15000 {
		t.Errorf("max peak = %d, want 15000", got)
	}
}

func TestCountersWithAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGateTransition(ctx, "idle", "capturing")
	m.RecordGateTransition(ctx, "idle", "capturing")
	m.RecordGateTransition(ctx, "capturing", "draining")
	m.RecordFlush(ctx, "trailing")
	m.RecordFlush(ctx, "overflow")
	m.RecordFlush(ctx, "trailing")
	m.RecordPlaybackError(ctx, "circuit_open")
	m.RecordBreakerTransition(ctx, "speaker", "open")

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"noisefighter.gate.transitions", "to", "capturing", 2},
		{"noisefighter.gate.transitions", "to", "draining", 1},
		{"noisefighter.gate.flushes", "reason", "trailing", 2},
		{"noisefighter.gate.flushes", "reason", "overflow", 1},
		{"noisefighter.playback.errors", "kind", "circuit_open", 1},
		{"noisefighter.playback.breaker.transitions", "sink", "speaker", 1},
	}
	for _, tc := range tests {
		t.Run(tc.metric+"/"+tc.value, func(t *testing.T) {
			met := findMetric(rm, tc.metric)
			if met == nil {
				t.Fatalf("metric %q not found", tc.metric)
			}
			got, ok := sumWhere(t, met, tc.key, tc.value)
			if !ok {
				t.Fatalf("no data point with %s=%s", tc.key, tc.value)
			}
			if got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPlainCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.WAVBytesWritten.Add(ctx, 2048)
	m.WAVBytesWritten.Add(ctx, 2048)
	m.RecordingErrors.Add(ctx, 1)
	m.NotificationsDropped.Add(ctx, 7)
	m.EventsDropped.Add(ctx, 2)
	m.MonitorClients.Add(ctx, 3)
	m.MonitorClients.Add(ctx, -1)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"noisefighter.recording.bytes", 4096},
		{"noisefighter.recording.errors", 1},
		{"noisefighter.notifications.dropped", 7},
		{"noisefighter.events.dropped", 2},
		{"noisefighter.monitor.clients", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDurationHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PlaybackDuration.Record(ctx, 1.5)
	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/api/status"),
		),
	)

	rm := collect(t, reader)
	for _, name := range []string{"noisefighter.playback.duration", "noisefighter.http.request.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("metric %q is not a histogram", name)
		}
		if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
			t.Errorf("metric %q: want one sample", name)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
