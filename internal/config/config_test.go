package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/noisefighter/internal/config"
	"github.com/MrWong99/noisefighter/pkg/audio"
	"github.com/MrWong99/noisefighter/pkg/audio/mock"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins:
    - "localhost:3000"
  shutdown_timeout: 5s

audio:
  source: replay
  sink: portaudio
  sample_rate: 48000
  frame_samples: 480
  output_device: "USB Speaker"
  fallback_output_device: "Built-in Output"
  replay:
    path: testdata/noise.wav
    loop: true
    realtime: false

gate:
  threshold: 12000
  trailing_frames: 0
  max_frames: 500
  settle_delay: 250ms
  decimation: 8

recording:
  dir: /var/lib/noisefighter
  overflow_policy: stop
  auto_start: true

events:
  postgres_dsn: "postgres://localhost/noise"

playback:
  breaker_max_failures: 3
  breaker_reset: 1m
`

// ── Loading ───────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if !slices.Equal(cfg.Server.AllowedOrigins, []string{"localhost:3000"}) {
		t.Errorf("server.allowed_origins: got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("server.shutdown_timeout: got %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.FrameSamples != 480 {
		t.Errorf("audio format: got %d/%d, want 48000/480", cfg.Audio.SampleRate, cfg.Audio.FrameSamples)
	}
	if cfg.Audio.FallbackOutputDevice != "Built-in Output" {
		t.Errorf("audio.fallback_output_device: got %q", cfg.Audio.FallbackOutputDevice)
	}
	if !cfg.Audio.Replay.Loop || *cfg.Audio.Replay.Realtime {
		t.Errorf("audio.replay: got loop=%v realtime=%v", cfg.Audio.Replay.Loop, *cfg.Audio.Replay.Realtime)
	}
	if *cfg.Gate.Threshold != 12000 {
		t.Errorf("gate.threshold: got %d, want 12000", *cfg.Gate.Threshold)
	}
	// An explicit zero must survive defaulting.
	if *cfg.Gate.TrailingFrames != 0 {
		t.Errorf("gate.trailing_frames: got %d, want 0", *cfg.Gate.TrailingFrames)
	}
	if *cfg.Gate.SettleDelay != 250*time.Millisecond {
		t.Errorf("gate.settle_delay: got %v, want 250ms", *cfg.Gate.SettleDelay)
	}
	if cfg.Recording.OverflowPolicy != config.OverflowStop || !cfg.Recording.AutoStart {
		t.Errorf("recording: got %+v", cfg.Recording)
	}
	if cfg.Playback.BreakerMaxFailures != 3 || cfg.Playback.BreakerReset != time.Minute {
		t.Errorf("playback: got %+v", cfg.Playback)
	}
	// Unset sections still get defaults.
	if cfg.Events.MemorySize != config.DefaultMemorySize {
		t.Errorf("events.memory_size: got %d, want %d", cfg.Events.MemorySize, config.DefaultMemorySize)
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): unexpected error: %v", doc, err)
		}
		if *cfg.Gate.Threshold != config.DefaultThreshold {
			t.Errorf("LoadFromReader(%q): threshold got %d, want %d", doc, *cfg.Gate.Threshold, config.DefaultThreshold)
		}
	}
}

func TestLoadFromReader_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("gate:\n  treshold: 5\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key, got nil")
	}
	if !strings.Contains(err.Error(), "treshold") {
		t.Errorf("error should name the unknown key, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "noisefighter.yaml")
	if err := os.WriteFile(path, []byte("gate:\n  threshold: 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg.Gate.Threshold != 42 {
		t.Errorf("threshold: got %d, want 42", *cfg.Gate.Threshold)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing): got %v, want os.ErrNotExist", err)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Audio.Source != config.SourcePortAudio || cfg.Audio.Sink != config.SinkPortAudio {
		t.Errorf("devices: got %q/%q", cfg.Audio.Source, cfg.Audio.Sink)
	}
	if cfg.Audio.SampleRate != 44100 || cfg.Audio.FrameSamples != 1024 {
		t.Errorf("format: got %d/%d", cfg.Audio.SampleRate, cfg.Audio.FrameSamples)
	}
	if *cfg.Gate.Threshold != 10000 || *cfg.Gate.TrailingFrames != 10 || cfg.Gate.MaxFrames != 10000 {
		t.Errorf("gate: got threshold=%d trailing=%d max=%d", *cfg.Gate.Threshold, *cfg.Gate.TrailingFrames, cfg.Gate.MaxFrames)
	}
	if *cfg.Gate.SettleDelay != time.Second {
		t.Errorf("settle_delay: got %v", *cfg.Gate.SettleDelay)
	}
	if cfg.Recording.OverflowPolicy != config.OverflowRotate {
		t.Errorf("overflow_policy: got %q", cfg.Recording.OverflowPolicy)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	cfg := config.Default().Audio

	if _, err := reg.CreateSource(cfg); !errors.Is(err, config.ErrDeviceNotRegistered) {
		t.Errorf("CreateSource: got %v, want ErrDeviceNotRegistered", err)
	}
	if _, err := reg.CreateSink(cfg, ""); !errors.Is(err, config.ErrDeviceNotRegistered) {
		t.Errorf("CreateSink: got %v, want ErrDeviceNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	src := &mock.Source{}
	sink := &mock.Sink{}
	var gotDevice string
	reg.RegisterSource("fake", func(config.AudioConfig) (audio.FrameSource, error) { return src, nil })
	reg.RegisterSink("fake", func(_ config.AudioConfig, device string) (audio.PlaybackSink, error) {
		gotDevice = device
		return sink, nil
	})

	cfg := config.AudioConfig{Source: "fake", Sink: "fake"}
	gotSrc, err := reg.CreateSource(cfg)
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	if gotSrc != src {
		t.Error("returned source is not the expected instance")
	}
	gotSink, err := reg.CreateSink(cfg, "Backup")
	if err != nil {
		t.Fatalf("CreateSink: %v", err)
	}
	if gotSink != sink {
		t.Error("returned sink is not the expected instance")
	}
	if gotDevice != "Backup" {
		t.Errorf("device: got %q, want %q", gotDevice, "Backup")
	}
	if got := reg.Sources(); !slices.Equal(got, []string{"fake"}) {
		t.Errorf("Sources: got %v", got)
	}
	if got := reg.Sinks(); !slices.Equal(got, []string{"fake"}) {
		t.Errorf("Sinks: got %v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterSource("broken", func(config.AudioConfig) (audio.FrameSource, error) {
		return nil, wantErr
	})
	_, err := reg.CreateSource(config.AudioConfig{Source: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
