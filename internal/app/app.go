// Package app wires all noisefighter subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture loop and the HTTP surface, and
// Shutdown tears everything down in order.
//
// For testing, inject alternatives via functional options (WithRegistry,
// WithEventStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/noisefighter/internal/config"
	"github.com/MrWong99/noisefighter/internal/engine"
	"github.com/MrWong99/noisefighter/internal/events"
	"github.com/MrWong99/noisefighter/internal/health"
	"github.com/MrWong99/noisefighter/internal/monitor"
	"github.com/MrWong99/noisefighter/internal/observe"
	"github.com/MrWong99/noisefighter/internal/resilience"
	"github.com/MrWong99/noisefighter/internal/wav"
	"github.com/MrWong99/noisefighter/pkg/audio"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	registry   *config.Registry
	metrics    *observe.Metrics
	levels     *slog.LevelVar
	configPath string

	// Subsystems, initialised in New and torn down in Shutdown.
	source   audio.FrameSource
	sink     audio.PlaybackSink
	store    events.Store
	recorder *events.Async
	engine   *engine.Engine
	hub      *monitor.Hub
	handler  http.Handler

	addrMu sync.Mutex
	addr   string

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry supplies the device registry. Without it New uses a registry
// holding the built-in devices.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithEventStore injects an event store instead of creating one from config.
func WithEventStore(s events.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics overrides the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable behind the process logger so
// config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.levels = v }
}

// WithConfigPath makes Run watch path and apply changes while running.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: the capture source,
// the guarded playback sinks, the event store, the engine, the monitor hub and
// the HTTP routes. Devices are opened here so a misconfigured device fails
// before anything starts running.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinDevices(a.registry)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Event store ───────────────────────────────────────────────────
	if err := a.initEvents(ctx); err != nil {
		return fmt.Errorf("app: init events: %w", err)
	}

	// ── 2. Devices ───────────────────────────────────────────────────────
	src, err := a.registry.CreateSource(a.cfg.Audio)
	if err != nil {
		return fmt.Errorf("app: open source %q: %w", a.cfg.Audio.Source, err)
	}
	a.source = src
	a.closers = append(a.closers, src.Close)

	if err := a.initSink(); err != nil {
		return fmt.Errorf("app: open sink %q: %w", a.cfg.Audio.Sink, err)
	}

	// ── 3. Engine ────────────────────────────────────────────────────────
	a.initEngine()

	// ── 4. Monitor + HTTP routes ─────────────────────────────────────────
	a.initHTTP()

	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initEvents sets up the PostgreSQL or in-memory event store and the
// asynchronous recorder in front of it.
func (a *App) initEvents(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Events.PostgresDSN; dsn != "" {
			store, err := events.NewPostgresStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = store
			slog.Info("recording noise events in postgres")
		} else {
			a.store = events.NewMemStore(a.cfg.Events.MemorySize)
		}
	}

	a.recorder = events.NewAsync(a.store, a.cfg.Events.QueueSize,
		events.WithOnDrop(func() {
			a.metrics.EventsDropped.Add(context.Background(), 1)
		}),
	)
	// Async.Close closes the store as well.
	a.closers = append(a.closers, a.recorder.Close)
	return nil
}

// initSink opens the output device and, when configured, a fallback device.
// Each device sits behind its own circuit breaker.
func (a *App) initSink() error {
	primary, err := a.openGuarded(a.cfg.Audio.OutputDevice)
	if err != nil {
		return err
	}
	fallback := a.cfg.Audio.FallbackOutputDevice
	if fallback == "" || a.cfg.Audio.Sink != config.SinkPortAudio {
		a.sink = primary
		return nil
	}

	secondary, err := a.openGuarded(fallback)
	if err != nil {
		// A missing fallback should not keep the primary from working.
		slog.Warn("fallback output device unavailable", "device", fallback, "err", err)
		a.sink = primary
		return nil
	}
	a.sink = resilience.NewFallbackSink(primary, secondary)
	slog.Info("fallback output device enabled", "device", fallback)
	return nil
}

func (a *App) openGuarded(device string) (*resilience.GuardedSink, error) {
	sink, err := a.registry.CreateSink(a.cfg.Audio, device)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sink.Close)

	name := device
	if name == "" {
		name = "default"
	}
	return resilience.NewGuardedSink(sink, resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  a.cfg.Playback.BreakerMaxFailures,
		ResetTimeout: a.cfg.Playback.BreakerReset,
		OnStateChange: func(name string, from, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			slog.Warn("playback breaker state changed", "sink", name, "from", from, "to", to)
		},
	}), nil
}

// initEngine builds the engine from the gate and recording settings.
func (a *App) initEngine() {
	g := a.cfg.Gate
	ecfg := engine.DefaultConfig()
	if g.Threshold != nil {
		ecfg.Threshold = *g.Threshold
	}
	if g.TrailingFrames != nil {
		ecfg.TrailingFrames = *g.TrailingFrames
	}
	if g.MaxFrames > 0 {
		ecfg.MaxFrames = g.MaxFrames
	}
	if g.SettleDelay != nil {
		ecfg.SettleDelay = *g.SettleDelay
	}
	ecfg.Decimation = g.Decimation
	ecfg.RecordingDir = a.cfg.Recording.Dir

	writerOpts := []wav.Option{wav.WithOverflowPolicy(wav.OverflowPolicy(a.cfg.Recording.OverflowPolicy))}
	if n := a.cfg.Recording.MaxFileBytes; n > 0 {
		writerOpts = append(writerOpts, wav.WithMaxDataSize(n))
	}

	a.engine = engine.New(a.source, a.sink, ecfg,
		engine.WithMetrics(a.metrics),
		engine.WithRecorder(a.recorder),
		engine.WithWriterOptions(writerOpts...),
	)
	// Engine.Close finalises the recording and closes the source and sink.
	a.closers = append(a.closers, a.engine.Close)
}

// initHTTP builds the monitor hub and the HTTP handler tree.
func (a *App) initHTTP() {
	a.hub = monitor.NewHub(monitor.DefaultClientQueue, a.metrics)
	a.hub.Attach(a.engine)

	srv := monitor.NewServer(a.engine, a.recorder, a.hub)
	srv.OriginPatterns = a.cfg.Server.AllowedOrigins

	checks := []health.Checker{health.Running("engine", a.engine.Running)}
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.Ping("events", p, true))
	}

	mux := http.NewServeMux()
	srv.Register(mux)
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP handler serving the API, the monitor feed, health
// probes and /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address the HTTP server listens on, or "" before Run has
// bound it.
func (a *App) Addr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the engine, the HTTP server and the optional config watcher and
// blocks until ctx is cancelled, the source runs out of input, or one of them
// fails. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr().String()
	a.addrMu.Unlock()

	if a.cfg.Recording.AutoStart {
		if _, err := a.engine.StartRecording(""); err != nil {
			ln.Close()
			return fmt.Errorf("app: auto-start recording: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		// Request contexts end with the app so monitor streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		// The app stops when the source runs dry.
		defer cancel()
		return a.engine.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: shutdown http: %w", err)
		}
		return nil
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(r config.Reload) { a.apply(r.Diff) })
		if err != nil {
			slog.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	slog.Info("noisefighter running",
		"addr", a.Addr(),
		"source", a.cfg.Audio.Source,
		"sink", a.cfg.Audio.Sink,
		"threshold", a.engine.Threshold(),
	)
	return g.Wait()
}

// ApplyConfig applies the live-reloadable differences between old and new:
// the gate threshold and the log level. Anything else is logged as needing a
// restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	a.apply(config.Diff(old, new))
}

func (a *App) apply(d config.ConfigDiff) {
	if !d.Changed() {
		return
	}
	if d.ThresholdChanged {
		v := a.engine.SetThreshold(d.NewThreshold)
		slog.Info("threshold reloaded", "threshold", v)
	}
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.Level())
		slog.Info("log level reloaded", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to build before failing.
func (a *App) closeAll() {
	for _, closer := range slices.Backward(a.closers) {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
