// Package engine runs the noise gate pipeline.
//
// An [Engine] pulls frames from an [audio.FrameSource] on a single goroutine
// and drives each one through the peak analyser, the threshold gate and, while
// armed, the WAV writer. When the gate flushes a capture run the engine plays
// it on the same goroutine, waits a short settle delay and only then reads the
// next frame. Audio arriving during playback is left to the capture device.
//
// Waveform and gate state updates are handed to a dispatcher goroutine through
// a bounded queue. A slow subscriber loses updates; it never stalls capture.
//
// The control surface ([Engine.SetThreshold], [Engine.StartRecording],
// [Engine.StopRecording], [Engine.Status]) is safe to call from any goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/noisefighter/internal/events"
	"github.com/MrWong99/noisefighter/internal/gate"
	"github.com/MrWong99/noisefighter/internal/observe"
	"github.com/MrWong99/noisefighter/internal/resilience"
	"github.com/MrWong99/noisefighter/internal/wav"
	"github.com/MrWong99/noisefighter/pkg/audio"
)

const (
	// DefaultThreshold is the peak at or above which a frame is loud.
	DefaultThreshold = 10000

	// MaxThreshold is one above the largest sample value, so a gate set to it
	// never opens.
	MaxThreshold = 32768

	// DefaultTrailingFrames is the length of the trailing window.
	DefaultTrailingFrames = 10

	// DefaultMaxFrames bounds the capture buffer.
	DefaultMaxFrames = 10000

	// DefaultSettleDelay is the pause after each playback.
	DefaultSettleDelay = time.Second

	// DefaultDecimation is the waveform decimation factor.
	DefaultDecimation = 16

	// DefaultNotifyQueue is the depth of the UI notification queue.
	DefaultNotifyQueue = 64

	// recordingLayout names generated recordings.
	recordingLayout = "2006-01-02_15-04-05"
)

// ErrAlreadyRunning is returned by [Engine.Run] when called more than once.
var ErrAlreadyRunning = errors.New("engine: already running")

// Config holds the gate and pipeline parameters. Use [DefaultConfig] as a
// starting point.
type Config struct {
	// Threshold is the initial gate threshold, clamped to [0, MaxThreshold].
	Threshold int

	// TrailingFrames is the number of quiet frames kept after the signal
	// drops. Negative values mean zero.
	TrailingFrames int

	// MaxFrames is the capture buffer capacity. Zero or negative selects
	// [DefaultMaxFrames].
	MaxFrames int

	// SettleDelay is waited after every playback. Zero disables it.
	SettleDelay time.Duration

	// Decimation is the waveform decimation factor. Zero disables waveform
	// output.
	Decimation int

	// RecordingDir is where StartRecording("") puts generated files.
	RecordingDir string

	// NotifyQueue is the depth of the UI notification queue. Zero or negative
	// selects [DefaultNotifyQueue].
	NotifyQueue int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		TrailingFrames: DefaultTrailingFrames,
		MaxFrames:      DefaultMaxFrames,
		SettleDelay:    DefaultSettleDelay,
		Decimation:     DefaultDecimation,
		RecordingDir:   "recordings",
		NotifyQueue:    DefaultNotifyQueue,
	}
}

// Waveform is one frame's worth of display data.
type Waveform struct {
	Time      time.Time         `json:"time"`
	Peak      int16             `json:"peak"`
	Threshold int               `json:"threshold"`
	Points    []audio.WavePoint `json:"points,omitempty"`
}

// StateChange reports a gate transition.
type StateChange struct {
	Time time.Time  `json:"time"`
	From gate.State `json:"from"`
	To   gate.State `json:"to"`
}

// Recording describes the WAV recording.
type Recording struct {
	Active  bool      `json:"active"`
	Path    string    `json:"path,omitempty"`
	Segment int       `json:"segment"`
	Bytes   int64     `json:"bytes"`
	Started time.Time `json:"started,omitzero"`
}

// SinkStatus is the circuit state of one playback device.
type SinkStatus struct {
	Name    string           `json:"name"`
	Breaker resilience.State `json:"breaker"`
}

// Status is a snapshot of the engine for the control surface.
type Status struct {
	Running        bool         `json:"running"`
	Format         string       `json:"format"`
	State          gate.State   `json:"state"`
	Threshold      int          `json:"threshold"`
	Buffered       int          `json:"buffered"`
	BufferCapacity int          `json:"buffer_capacity"`
	Trailing       int          `json:"trailing"`
	TrailingLimit  int          `json:"trailing_limit"`
	Frames         uint64       `json:"frames"`
	Cycles         uint64       `json:"cycles"`
	Recording      Recording    `json:"recording"`
	RecordingError string       `json:"recording_error,omitempty"`
	Sinks          []SinkStatus `json:"sinks,omitempty"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecorder sets where completed cycles are reported.
func WithRecorder(r events.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithWriterOptions passes options to the WAV writer.
func WithWriterOptions(opts ...wav.Option) Option {
	return func(e *Engine) { e.writerOpts = append(e.writerOpts, opts...) }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// notification is a queued UI update; exactly one field is set.
type notification struct {
	wave  *Waveform
	state *StateChange
}

// run tracks the capture run currently in the buffer.
type run struct {
	start time.Time
}

// Engine is the capture, gate and playback pipeline. Create one with [New].
type Engine struct {
	source   audio.FrameSource
	sink     audio.PlaybackSink
	cfg      Config
	analyzer audio.PeakAnalyzer
	metrics  *observe.Metrics
	recorder events.Recorder
	now      func() time.Time

	threshold atomic.Int32
	running   atomic.Bool
	started   atomic.Bool
	frames    atomic.Uint64
	cycles    atomic.Uint64

	// mu guards the gate and the current run. The gate is only fed from the
	// capture goroutine; the lock lets Status read it.
	mu   sync.Mutex
	gate *gate.Gate
	run  run

	// recMu guards the WAV writer so recording can be armed from the
	// control surface while the capture goroutine appends.
	recMu      sync.Mutex
	writer     *wav.Writer
	writerOpts []wav.Option
	recStarted time.Time
	recErr     error

	cbMu      sync.RWMutex
	onWave    []func(Waveform)
	onState   []func(StateChange)
	notes     chan notification
	done      chan struct{}
	dispatchd chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New builds an Engine reading from source and playing to sink. The
// dispatcher goroutine starts immediately; call [Engine.Close] (or let
// [Engine.Run] return) to release it.
func New(source audio.FrameSource, sink audio.PlaybackSink, cfg Config, opts ...Option) *Engine {
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = DefaultMaxFrames
	}
	cfg.TrailingFrames = max(cfg.TrailingFrames, 0)
	cfg.Decimation = max(cfg.Decimation, 0)
	cfg.SettleDelay = max(cfg.SettleDelay, 0)
	if cfg.NotifyQueue <= 0 {
		cfg.NotifyQueue = DefaultNotifyQueue
	}

	e := &Engine{
		source:    source,
		sink:      sink,
		cfg:       cfg,
		analyzer:  audio.PeakAnalyzer{Decimation: cfg.Decimation},
		now:       time.Now,
		gate:      gate.New(gate.NewBuffer(cfg.MaxFrames), cfg.TrailingFrames),
		notes:     make(chan notification, cfg.NotifyQueue),
		done:      make(chan struct{}),
		dispatchd: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.writer = wav.NewWriter(source.Format(), e.writerOpts...)
	e.SetThreshold(cfg.Threshold)

	go e.dispatch()
	return e
}

// Run pulls frames until ctx is cancelled, the source reports io.EOF or the
// source fails. Cancellation and end of input return nil; a device failure
// is returned wrapped. On return any open recording is finalised and the
// source and sink are closed. Run may be called only once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		if err := e.Close(); err != nil {
			slog.Warn("engine: close error", "err", err)
		}
	}()

	format := e.source.Format()
	slog.Info("engine running",
		"format", format.String(),
		"frame_bytes", e.source.FrameSize(),
		"threshold", e.Threshold(),
		"trailing_frames", e.cfg.TrailingFrames,
		"max_frames", e.cfg.MaxFrames,
	)

	for {
		frame, err := e.source.ReadFrame(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF):
				slog.Info("engine: source exhausted")
				return nil
			default:
				return fmt.Errorf("engine: read frame: %w", err)
			}
		}
		if err := e.Step(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step runs one frame through the pipeline. It blocks for the length of
// playback when the frame completes a capture run. Only ctx cancellation is
// returned as an error; playback and recording failures are logged.
func (e *Engine) Step(ctx context.Context, frame audio.Frame) error {
	now := e.now()
	threshold := e.Threshold()
	peak, points := e.analyzer.Analyze(frame)
	e.frames.Add(1)
	e.metrics.RecordFrame(ctx, peak)

	e.record(ctx, frame)

	e.mu.Lock()
	d := e.gate.Feed(frame, peak, threshold)
	if d.From == gate.Idle && d.Action == gate.ActionBuffer {
		e.run = run{start: now}
	}
	runStart := e.run.start
	e.mu.Unlock()

	if e.hasWaveSubscribers() {
		e.notify(ctx, notification{wave: &Waveform{Time: now, Peak: peak, Threshold: threshold, Points: points}})
	}
	if d.Changed() {
		e.stateChanged(ctx, now, d.From, d.To)
	}
	if d.Action == gate.ActionFlushAndPlay {
		return e.play(ctx, d, runStart)
	}
	return ctx.Err()
}

// play renders a flushed run, waits the settle delay and returns the gate to
// Idle whatever the outcome.
func (e *Engine) play(ctx context.Context, d gate.Decision, runStart time.Time) error {
	pcm := audio.Concat(d.Frames)
	ev := events.Event{
		Start:  runStart,
		Frames: len(d.Frames),
		Bytes:  len(pcm),
		Peak:   e.runPeak(d.Frames),
		Reason: string(d.Reason),
	}

	ctx, span := observe.StartPlayback(ctx, observe.Run{
		Frames:    ev.Frames,
		Bytes:     ev.Bytes,
		Peak:      ev.Peak,
		Reason:    ev.Reason,
		Threshold: e.Threshold(),
	})
	var spanErr error
	defer func() { observe.EndPlayback(span, string(ev.Outcome), spanErr) }()
	log := observe.Logger(ctx)

	e.metrics.RecordFlush(ctx, string(d.Reason))
	log.Debug("playing capture run", "frames", ev.Frames, "bytes", ev.Bytes, "reason", ev.Reason, "peak", ev.Peak)

	start := time.Now()
	err := e.sink.Play(ctx, pcm)
	ev.PlaybackDuration = time.Since(start)
	e.metrics.PlaybackDuration.Record(ctx, ev.PlaybackDuration.Seconds())

	switch {
	case err == nil:
		ev.Outcome = events.OutcomePlayed
	case ctx.Err() != nil:
		ev.Outcome = events.OutcomeSkipped
	default:
		ev.Outcome = events.OutcomeFailed
		ev.Error = err.Error()
		e.metrics.RecordPlaybackError(ctx, playbackErrorKind(err))
		spanErr = err
		log.Warn("playback failed, dropping capture run", "frames", ev.Frames, "err", err)
	}

	if ctx.Err() == nil && e.cfg.SettleDelay > 0 {
		t := time.NewTimer(e.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	e.mu.Lock()
	changed := e.gate.PlaybackDone()
	e.run = run{}
	e.mu.Unlock()
	e.cycles.Add(1)

	end := e.now()
	if changed {
		e.stateChanged(ctx, end, gate.Playing, gate.Idle)
	}

	ev.End = end
	if e.recorder != nil && !e.recorder.Enqueue(ev) {
		log.Debug("noise event dropped", "frames", ev.Frames)
	}
	return ctx.Err()
}

func (e *Engine) runPeak(frames []audio.Frame) int16 {
	var peak int16
	for i, f := range frames {
		p := e.analyzer.Peak(f)
		if i == 0 || p > peak {
			peak = p
		}
	}
	return peak
}

func playbackErrorKind(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, resilience.ErrAllFailed):
		return "all_failed"
	case errors.Is(err, audio.ErrDevice):
		return "device"
	default:
		return "other"
	}
}

// record appends frame to the armed WAV file. A failure disarms recording.
func (e *Engine) record(ctx context.Context, frame audio.Frame) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	if !e.writer.Active() {
		return
	}

	seg := e.writer.Segment()
	err := e.writer.Append(frame)
	if err == nil {
		e.metrics.WAVBytesWritten.Add(ctx, int64(len(frame)))
		if e.writer.Segment() != seg {
			slog.Info("recording rotated", "path", e.writer.Path(), "segment", e.writer.Segment())
		}
		return
	}

	if e.writer.Active() {
		if ferr := e.writer.Finish(); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}
	e.recErr = err
	e.metrics.RecordingErrors.Add(ctx, 1)
	slog.Error("recording stopped", "path", e.writer.Path(), "bytes", e.writer.BytesWritten(), "err", err)
}

// Threshold returns the current gate threshold.
func (e *Engine) Threshold() int { return int(e.threshold.Load()) }

// SetThreshold changes the gate threshold, effective from the next frame.
// The value is clamped to [0, MaxThreshold]; the stored value is returned.
func (e *Engine) SetThreshold(v int) int {
	v = min(max(v, 0), MaxThreshold)
	old := e.threshold.Swap(int32(v))
	if int(old) != v {
		slog.Debug("threshold changed", "from", old, "to", v)
	}
	return v
}

// StartRecording arms the WAV writer. An empty path generates a timestamped
// file in the configured recording directory. Every subsequent frame is
// written until [Engine.StopRecording], regardless of the gate.
func (e *Engine) StartRecording(path string) (Recording, error) {
	if path == "" {
		dir := e.cfg.RecordingDir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Recording{}, fmt.Errorf("%w: create %s: %w", wav.ErrIO, dir, err)
		}
		path = filepath.Join(dir, e.now().Format(recordingLayout)+".wav")
	}

	e.recMu.Lock()
	defer e.recMu.Unlock()
	if err := e.writer.Start(path); err != nil {
		return e.recordingLocked(), err
	}
	e.recStarted = e.now()
	e.recErr = nil
	slog.Info("recording started", "path", path)
	return e.recordingLocked(), nil
}

// StopRecording finalises the WAV file. It returns [wav.ErrNotStarted] when
// nothing is being recorded.
func (e *Engine) StopRecording() (Recording, error) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	err := e.writer.Finish()
	rec := e.recordingLocked()
	if err != nil {
		return rec, err
	}
	slog.Info("recording stopped", "path", rec.Path, "bytes", rec.Bytes, "segment", rec.Segment)
	return rec, nil
}

func (e *Engine) recordingLocked() Recording {
	rec := Recording{
		Active:  e.writer.Active(),
		Path:    e.writer.Path(),
		Segment: e.writer.Segment(),
		Bytes:   e.writer.BytesWritten(),
	}
	if rec.Path != "" {
		rec.Started = e.recStarted
	}
	return rec
}

// OnWaveform registers fn to receive per-frame display data. fn runs on the
// dispatcher goroutine.
func (e *Engine) OnWaveform(fn func(Waveform)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onWave = append(e.onWave, fn)
}

// OnGateStateChanged registers fn to receive gate transitions. fn runs on the
// dispatcher goroutine.
func (e *Engine) OnGateStateChanged(fn func(StateChange)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onState = append(e.onState, fn)
}

func (e *Engine) hasWaveSubscribers() bool {
	e.cbMu.RLock()
	defer e.cbMu.RUnlock()
	return len(e.onWave) > 0
}

func (e *Engine) stateChanged(ctx context.Context, at time.Time, from, to gate.State) {
	e.metrics.RecordGateTransition(ctx, from.String(), to.String())
	observe.GateTransition(ctx, from.String(), to.String())
	slog.Debug("gate state changed", "from", from, "to", to)
	e.notify(ctx, notification{state: &StateChange{Time: at, From: from, To: to}})
}

// notify queues n without blocking.
func (e *Engine) notify(ctx context.Context, n notification) {
	select {
	case e.notes <- n:
	default:
		e.metrics.NotificationsDropped.Add(ctx, 1)
	}
}

func (e *Engine) dispatch() {
	defer close(e.dispatchd)
	for {
		select {
		case n := <-e.notes:
			e.deliver(n)
		case <-e.done:
			for {
				select {
				case n := <-e.notes:
					e.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) deliver(n notification) {
	e.cbMu.RLock()
	waves, states := e.onWave, e.onState
	e.cbMu.RUnlock()
	switch {
	case n.wave != nil:
		for _, fn := range waves {
			fn(*n.wave)
		}
	case n.state != nil:
		for _, fn := range states {
			fn(*n.state)
		}
	}
}

// Running reports whether [Engine.Run] is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	st := Status{
		Running:        e.Running(),
		Format:         e.source.Format().String(),
		Threshold:      e.Threshold(),
		BufferCapacity: e.cfg.MaxFrames,
		TrailingLimit:  e.cfg.TrailingFrames,
		Frames:         e.frames.Load(),
		Cycles:         e.cycles.Load(),
	}

	e.mu.Lock()
	st.State = e.gate.State()
	st.Buffered = e.gate.Buffer().Len()
	st.Trailing = e.gate.TrailingCount()
	e.mu.Unlock()

	e.recMu.Lock()
	st.Recording = e.recordingLocked()
	if e.recErr != nil {
		st.RecordingError = e.recErr.Error()
	}
	e.recMu.Unlock()

	for _, cb := range breakersOf(e.sink) {
		st.Sinks = append(st.Sinks, SinkStatus{Name: cb.Name(), Breaker: cb.State()})
	}
	return st
}

func breakersOf(sink audio.PlaybackSink) []*resilience.CircuitBreaker {
	switch s := sink.(type) {
	case *resilience.FallbackSink:
		return s.Breakers()
	case *resilience.GuardedSink:
		return []*resilience.CircuitBreaker{s.Breaker()}
	default:
		return nil
	}
}

// Close finalises any open recording, closes the source and sink and stops
// the dispatcher after it has delivered queued notifications. It is safe to
// call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var errs []error

		e.recMu.Lock()
		if e.writer.Active() {
			path, n := e.writer.Path(), e.writer.BytesWritten()
			if err := e.writer.Finish(); err != nil {
				errs = append(errs, fmt.Errorf("finish recording: %w", err))
			} else {
				slog.Info("recording finalised on shutdown", "path", path, "bytes", n)
			}
		}
		e.recMu.Unlock()

		if err := e.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
		if err := e.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}

		close(e.done)
		<-e.dispatchd
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
