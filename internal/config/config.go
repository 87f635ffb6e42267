// Package config provides the configuration schema, loader, hot-reload
// watcher and device registry for noisefighter.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Source kinds understood by the default registry.
const (
	SourcePortAudio = "portaudio"
	SourceTone      = "tone"
	SourceReplay    = "replay"
)

// Sink kinds understood by the default registry.
const (
	SinkPortAudio = "portaudio"
	SinkDiscard   = "discard"
)

// Overflow policies for recordings. They match the wav package values.
const (
	OverflowRotate = "rotate"
	OverflowStop   = "stop"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Gate      GateConfig      `yaml:"gate"`
	Recording RecordingConfig `yaml:"recording"`
	Events    EventsConfig    `yaml:"events"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the control API, the WebSocket
	// monitor, /metrics and the health probes. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, sends logs to a size-rotated file instead of stderr.
	LogFile string `yaml:"log_file"`

	// LogMaxSizeMB is the size at which LogFile is rotated. Default: 100.
	LogMaxSizeMB int `yaml:"log_max_size_mb"`

	// LogMaxBackups is the number of rotated files kept. Default: 3.
	LogMaxBackups int `yaml:"log_max_backups"`

	// AllowedOrigins are extra origin patterns accepted by the WebSocket
	// handshake, e.g. "localhost:3000".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AudioConfig selects the capture and playback devices.
type AudioConfig struct {
	// Source is the frame source kind: portaudio, tone or replay.
	Source string `yaml:"source"`

	// Sink is the playback sink kind: portaudio or discard.
	Sink string `yaml:"sink"`

	// SampleRate in Hz. Default: 44100.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples per frame. Default: 1024.
	FrameSamples int `yaml:"frame_samples"`

	// InputDevice and OutputDevice select devices by exact name or name
	// prefix. Empty selects the host default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// FallbackOutputDevice, when set, is used for playback while the primary
	// output device's circuit breaker is open.
	FallbackOutputDevice string `yaml:"fallback_output_device"`

	Tone   ToneConfig   `yaml:"tone"`
	Replay ReplayConfig `yaml:"replay"`
}

// ToneConfig configures the sine generator source.
type ToneConfig struct {
	// Frequency in Hz. Default: 1000.
	Frequency float64 `yaml:"frequency"`

	// Amplitude relative to full scale, in (0, 1]. Default: 1.
	Amplitude float64 `yaml:"amplitude"`

	// Realtime paces frames at the sample rate. Default: true.
	Realtime *bool `yaml:"realtime"`
}

// ReplayConfig configures the WAV replay source.
type ReplayConfig struct {
	// Path of a 16-bit mono PCM WAV file at the configured sample rate.
	Path string `yaml:"path"`

	// Loop restarts the file at its end instead of stopping.
	Loop bool `yaml:"loop"`

	// Realtime paces frames at the sample rate. Default: true.
	Realtime *bool `yaml:"realtime"`
}

// GateConfig holds the threshold gate parameters.
type GateConfig struct {
	// Threshold is the peak at or above which a frame is loud, in
	// [0, 32768]. 32768 disables the gate. Default: 10000. Hot-reloadable.
	Threshold *int `yaml:"threshold"`

	// TrailingFrames is the number of quiet frames kept after the signal
	// drops. Default: 10.
	TrailingFrames *int `yaml:"trailing_frames"`

	// MaxFrames bounds the capture buffer. Default: 10000.
	MaxFrames int `yaml:"max_frames"`

	// SettleDelay is waited after every playback. Default: 1s.
	SettleDelay *time.Duration `yaml:"settle_delay"`

	// Decimation is the waveform decimation factor for the monitor.
	// Default: 16.
	Decimation int `yaml:"decimation"`
}

// RecordingConfig controls WAV recording.
type RecordingConfig struct {
	// Dir receives generated recordings. Default: "recordings".
	Dir string `yaml:"dir"`

	// OverflowPolicy is rotate or stop. Default: rotate.
	OverflowPolicy string `yaml:"overflow_policy"`

	// AutoStart arms recording when the engine starts.
	AutoStart bool `yaml:"auto_start"`

	// MaxFileBytes lowers the per-file data limit. Zero keeps the 4 GiB WAV
	// limit.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// EventsConfig selects the noise event store.
type EventsConfig struct {
	// PostgresDSN selects the PostgreSQL store. Empty keeps events in memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MemorySize is the capacity of the in-memory store. Default: 256.
	MemorySize int `yaml:"memory_size"`

	// QueueSize is the depth of the asynchronous event queue. Default: 64.
	QueueSize int `yaml:"queue_size"`
}

// PlaybackConfig configures the circuit breaker around each output device.
type PlaybackConfig struct {
	// BreakerMaxFailures is the number of consecutive failures that open
	// the breaker. Default: 5.
	BreakerMaxFailures int `yaml:"breaker_max_failures"`

	// BreakerReset is how long the breaker stays open. Default: 30s.
	BreakerReset time.Duration `yaml:"breaker_reset"`
}
