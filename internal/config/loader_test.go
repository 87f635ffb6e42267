package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/noisefighter/internal/config"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"negative shutdown", "server:\n  shutdown_timeout: -1s\n", "shutdown_timeout"},
		{"unknown source", "audio:\n  source: microphone\n", "audio.source"},
		{"unknown sink", "audio:\n  sink: headphones\n", "audio.sink"},
		{"sample rate low", "audio:\n  sample_rate: 4000\n", "sample_rate"},
		{"frame samples", "audio:\n  frame_samples: -1\n", "frame_samples"},
		{"replay without path", "audio:\n  source: replay\n", "replay.path"},
		{"tone above nyquist", "audio:\n  source: tone\n  sample_rate: 8000\n  tone:\n    frequency: 5000\n", "frequency"},
		{"tone amplitude", "audio:\n  source: tone\n  tone:\n    amplitude: 1.5\n", "amplitude"},
		{"threshold negative", "gate:\n  threshold: -1\n", "gate.threshold"},
		{"threshold too large", "gate:\n  threshold: 40000\n", "gate.threshold"},
		{"trailing negative", "gate:\n  trailing_frames: -2\n", "trailing_frames"},
		{"max frames negative", "gate:\n  max_frames: -5\n", "max_frames"},
		{"settle negative", "gate:\n  settle_delay: -1s\n", "settle_delay"},
		{"decimation negative", "gate:\n  decimation: -1\n", "decimation"},
		{"overflow policy", "recording:\n  overflow_policy: truncate\n", "overflow_policy"},
		{"max file bytes", "recording:\n  max_file_bytes: -1\n", "max_file_bytes"},
		{"max file bytes below frame", "audio:\n  frame_samples: 512\nrecording:\n  max_file_bytes: 1023\n", "smaller than one frame"},
		{"queue size", "events:\n  queue_size: -1\n", "queue_size"},
		{"breaker failures", "playback:\n  breaker_max_failures: -1\n", "breaker_max_failures"},
		{"breaker reset", "playback:\n  breaker_reset: -5s\n", "breaker_reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"threshold zero", "gate:\n  threshold: 0\n"},
		{"threshold disables gate", "gate:\n  threshold: 32768\n"},
		{"tone source", "audio:\n  source: tone\n  sink: discard\n"},
		{"replay with path", "audio:\n  source: replay\n  replay:\n    path: in.wav\n"},
		{"trailing not below max", "gate:\n  trailing_frames: 20\n  max_frames: 10\n"},
		{"fallback on discard", "audio:\n  sink: discard\n  fallback_output_device: spare\n"},
		{"max file bytes one frame", "audio:\n  frame_samples: 512\nrecording:\n  max_file_bytes: 1024\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.LoadFromReader(strings.NewReader(tt.yaml)); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
gate:
  threshold: 99999
recording:
  overflow_policy: wrap
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log_level", "gate.threshold", "overflow_policy"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_NilPointersAreUnset(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Gate.Threshold = nil
	cfg.Gate.TrailingFrames = nil
	cfg.Gate.SettleDelay = nil
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidDeviceNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"source", "sink"} {
		if len(config.ValidDeviceNames[kind]) == 0 {
			t.Errorf("ValidDeviceNames[%q] should not be empty", kind)
		}
	}
}
