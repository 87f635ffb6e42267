// Command noisefighter listens on a capture device and, whenever the signal
// crosses a loudness threshold, records the noise and plays it straight back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/noisefighter/internal/app"
	"github.com/MrWong99/noisefighter/internal/config"
	"github.com/MrWong99/noisefighter/internal/observe"
	"github.com/MrWong99/noisefighter/pkg/audio/portaudio"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	listDevices := flag.Bool("list-devices", false, "print the audio devices PortAudio reports and exit")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "noisefighter: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "noisefighter: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levels := new(slog.LevelVar)
	levels.Set(cfg.Server.LogLevel.Level())
	out, closeLog := logOutput(cfg.Server)
	defer closeLog()
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: levels})))

	slog.Info("noisefighter starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Source:         cfg.Audio.Source,
		Sink:           cfg.Audio.Sink,
		SampleRate:     cfg.Audio.SampleRate,
		FrameSamples:   cfg.Audio.FrameSamples,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio host ────────────────────────────────────────────────────────────
	if cfg.Audio.Source == config.SourcePortAudio || cfg.Audio.Sink == config.SinkPortAudio {
		if err := portaudio.Initialize(); err != nil {
			slog.Error("failed to initialise audio host", "err", err)
			return 1
		}
		defer func() {
			if err := portaudio.Terminate(); err != nil {
				slog.Warn("audio host terminate error", "err", err)
			}
		}()
	}

	reg := config.NewRegistry()
	app.RegisterBuiltinDevices(reg)

	opts := []app.Option{app.WithRegistry(reg), app.WithLogLevel(levels)}
	if *configPath != "" {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// logOutput returns stderr, or a size-rotated file when log_file is set.
func logOutput(s config.ServerConfig) (io.Writer, func()) {
	if s.LogFile == "" {
		return os.Stderr, func() {}
	}
	lj := &lumberjack.Logger{
		Filename:   s.LogFile,
		MaxSize:    s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
		Compress:   true,
	}
	return lj, func() { _ = lj.Close() }
}

func printDevices() int {
	if err := portaudio.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "noisefighter: %v\n", err)
		return 1
	}
	defer portaudio.Terminate()

	devices, err := portaudio.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "noisefighter: %v\n", err)
		return 1
	}
	for _, d := range devices {
		fmt.Printf("%3d  %-40s  in:%d out:%d  %.0f Hz\n",
			d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return 0
}
