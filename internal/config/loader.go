package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultSampleRate      = 44100
	DefaultFrameSamples    = 1024
	DefaultToneFrequency   = 1000
	DefaultThreshold       = 10000
	DefaultTrailingFrames  = 10
	DefaultMaxFrames       = 10000
	DefaultSettleDelay     = time.Second
	DefaultDecimation      = 16
	DefaultRecordingDir    = "recordings"
	DefaultMemorySize      = 256
	DefaultQueueSize       = 64
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogMaxSizeMB    = 100
	DefaultLogMaxBackups   = 3

	// MaxThreshold disables the gate: no 16-bit sample reaches it.
	MaxThreshold = 32768
)

// ValidDeviceNames lists known source and sink kinds. Used by [Validate].
var ValidDeviceNames = map[string][]string{
	"source": {SourcePortAudio, SourceTone, SourceReplay},
	"sink":   {SinkPortAudio, SinkDiscard},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields of cfg.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogMaxSizeMB == 0 {
		s.LogMaxSizeMB = DefaultLogMaxSizeMB
	}
	if s.LogMaxBackups == 0 {
		s.LogMaxBackups = DefaultLogMaxBackups
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	a := &cfg.Audio
	if a.Source == "" {
		a.Source = SourcePortAudio
	}
	if a.Sink == "" {
		a.Sink = SinkPortAudio
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.FrameSamples == 0 {
		a.FrameSamples = DefaultFrameSamples
	}
	if a.Tone.Frequency == 0 {
		a.Tone.Frequency = DefaultToneFrequency
	}
	if a.Tone.Amplitude == 0 {
		a.Tone.Amplitude = 1
	}
	if a.Tone.Realtime == nil {
		a.Tone.Realtime = ptr(true)
	}
	if a.Replay.Realtime == nil {
		a.Replay.Realtime = ptr(true)
	}

	g := &cfg.Gate
	if g.Threshold == nil {
		g.Threshold = ptr(DefaultThreshold)
	}
	if g.TrailingFrames == nil {
		g.TrailingFrames = ptr(DefaultTrailingFrames)
	}
	if g.MaxFrames == 0 {
		g.MaxFrames = DefaultMaxFrames
	}
	if g.SettleDelay == nil {
		g.SettleDelay = ptr(DefaultSettleDelay)
	}
	if g.Decimation == 0 {
		g.Decimation = DefaultDecimation
	}

	rc := &cfg.Recording
	if rc.Dir == "" {
		rc.Dir = DefaultRecordingDir
	}
	if rc.OverflowPolicy == "" {
		rc.OverflowPolicy = OverflowRotate
	}

	ev := &cfg.Events
	if ev.MemorySize == 0 {
		ev.MemorySize = DefaultMemorySize
	}
	if ev.QueueSize == 0 {
		ev.QueueSize = DefaultQueueSize
	}

	p := &cfg.Playback
	if p.BreakerMaxFailures == 0 {
		p.BreakerMaxFailures = DefaultBreakerFailures
	}
	if p.BreakerReset == 0 {
		p.BreakerReset = DefaultBreakerReset
	}
}

func ptr[T any](v T) *T { return &v }

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found. Pointer
// fields left nil are treated as unset.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogMaxSizeMB < 0 || cfg.Server.LogMaxBackups < 0 {
		errs = append(errs, errors.New("server.log_max_size_mb and server.log_max_backups must not be negative"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Audio
	a := cfg.Audio
	errs = append(errs, validateDeviceName("source", a.Source), validateDeviceName("sink", a.Sink))
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	if a.FrameSamples <= 0 || a.FrameSamples > 1<<16 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d is out of range [1, 65536]", a.FrameSamples))
	}
	if a.Source == SourceReplay && a.Replay.Path == "" {
		errs = append(errs, errors.New("audio.replay.path is required when audio.source is replay"))
	}
	if a.Source == SourceTone {
		if a.Tone.Frequency <= 0 || (a.SampleRate > 0 && a.Tone.Frequency >= float64(a.SampleRate)/2) {
			errs = append(errs, fmt.Errorf("audio.tone.frequency %.1f must be in (0, sample_rate/2)", a.Tone.Frequency))
		}
		if a.Tone.Amplitude <= 0 || a.Tone.Amplitude > 1 {
			errs = append(errs, fmt.Errorf("audio.tone.amplitude %.2f is out of range (0, 1]", a.Tone.Amplitude))
		}
	}
	if a.FallbackOutputDevice != "" && a.Sink != SinkPortAudio {
		slog.Warn("audio.fallback_output_device is ignored unless audio.sink is portaudio", "sink", a.Sink)
	}

	// Gate
	g := cfg.Gate
	if g.Threshold != nil && (*g.Threshold < 0 || *g.Threshold > MaxThreshold) {
		errs = append(errs, fmt.Errorf("gate.threshold %d is out of range [0, %d]", *g.Threshold, MaxThreshold))
	}
	if g.TrailingFrames != nil && *g.TrailingFrames < 0 {
		errs = append(errs, fmt.Errorf("gate.trailing_frames %d must not be negative", *g.TrailingFrames))
	}
	if g.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("gate.max_frames %d must not be negative", g.MaxFrames))
	}
	if g.TrailingFrames != nil && g.MaxFrames > 0 && *g.TrailingFrames >= g.MaxFrames {
		slog.Warn("gate.trailing_frames is not below gate.max_frames; runs will always flush on overflow",
			"trailing_frames", *g.TrailingFrames, "max_frames", g.MaxFrames)
	}
	if g.SettleDelay != nil && *g.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("gate.settle_delay %v must not be negative", *g.SettleDelay))
	}
	if g.Decimation < 0 {
		errs = append(errs, fmt.Errorf("gate.decimation %d must not be negative", g.Decimation))
	}

	// Recording
	switch cfg.Recording.OverflowPolicy {
	case "", OverflowRotate, OverflowStop:
	default:
		errs = append(errs, fmt.Errorf("recording.overflow_policy %q is invalid; valid values: rotate, stop", cfg.Recording.OverflowPolicy))
	}
	if n := cfg.Recording.MaxFileBytes; n < 0 {
		errs = append(errs, fmt.Errorf("recording.max_file_bytes %d must not be negative", n))
	} else if frame := int64(cfg.Audio.FrameSamples) * 2; n > 0 && n < frame {
		errs = append(errs, fmt.Errorf("recording.max_file_bytes %d is smaller than one frame (%d bytes)", n, frame))
	}

	// Events
	if cfg.Events.MemorySize < 0 || cfg.Events.QueueSize < 0 {
		errs = append(errs, errors.New("events.memory_size and events.queue_size must not be negative"))
	}
	if cfg.Events.PostgresDSN == "" {
		slog.Debug("events.postgres_dsn is empty; noise events are kept in memory only")
	}

	// Playback
	if cfg.Playback.BreakerMaxFailures < 0 {
		errs = append(errs, fmt.Errorf("playback.breaker_max_failures %d must not be negative", cfg.Playback.BreakerMaxFailures))
	}
	if cfg.Playback.BreakerReset < 0 {
		errs = append(errs, fmt.Errorf("playback.breaker_reset %v must not be negative", cfg.Playback.BreakerReset))
	}

	return errors.Join(errs...)
}

// validateDeviceName returns an error if name is non-empty and not found in
// the [ValidDeviceNames] list for the given kind.
func validateDeviceName(kind, name string) error {
	if name == "" {
		return nil
	}
	known := ValidDeviceNames[kind]
	if slices.Contains(known, name) {
		return nil
	}
	return fmt.Errorf("audio.%s %q is invalid; valid values: %v", kind, name, known)
}
