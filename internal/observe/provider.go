package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when ProviderConfig.ServiceName is empty.
const DefaultServiceName = "noisefighter"

// Resource attribute keys describing the audio pipeline a process runs.
const (
	AttrAudioSource     = attribute.Key("noisefighter.audio.source")
	AttrAudioSink       = attribute.Key("noisefighter.audio.sink")
	AttrAudioSampleRate = attribute.Key("noisefighter.audio.sample_rate")
	AttrAudioFrame      = attribute.Key("noisefighter.audio.frame_samples")
)

// ProviderConfig describes the process to the telemetry backends. Every
// metric and span carries these values as resource attributes.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// Pipeline shape, usually copied from the audio config.
	Source       string
	Sink         string
	SampleRate   int
	FrameSamples int

	// TraceExporter receives finished spans. Nil keeps spans in-process
	// only, which is enough for trace IDs in logs and responses.
	TraceExporter sdktrace.SpanExporter
}

func (c ProviderConfig) resource(ctx context.Context) (*resource.Resource, error) {
	name := c.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(c.ServiceVersion),
	}
	if c.Source != "" {
		attrs = append(attrs, AttrAudioSource.String(c.Source))
	}
	if c.Sink != "" {
		attrs = append(attrs, AttrAudioSink.String(c.Sink))
	}
	if c.SampleRate > 0 {
		attrs = append(attrs, AttrAudioSampleRate.Int(c.SampleRate))
	}
	if c.FrameSamples > 0 {
		attrs = append(attrs, AttrAudioFrame.Int(c.FrameSamples))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

// InitProvider installs global meter and tracer providers. Metrics go to a
// Prometheus exporter that promhttp serves at /metrics; spans go to
// cfg.TraceExporter when set. The returned function flushes and shuts both
// down.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
