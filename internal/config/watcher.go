package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// Reload is handed to a Watcher's apply function when the file on disk
// parses, validates and differs from the running config.
type Reload struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// Watcher polls a config file while the gate runs. Edits that change nothing
// after defaulting (comments, reordering, a touch) are absorbed; an invalid
// file is reported once and the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(Reload)

	mu       sync.Mutex
	current  *Config
	mtime    time.Time
	rejected time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher that calls apply for every
// effective change once Run is started. apply may be nil.
func NewWatcher(path string, apply func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.mtime = info.ModTime()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil so it can sit in an
// errgroup next to the engine and the HTTP server.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	mtime := info.ModTime()

	w.mu.Lock()
	seen := mtime.Equal(w.mtime) || mtime.Equal(w.rejected)
	w.mu.Unlock()
	if seen {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.mu.Lock()
		w.rejected = mtime
		w.mu.Unlock()
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	d := Diff(old, cfg)
	w.current = cfg
	w.mtime = mtime
	w.mu.Unlock()

	if !d.Changed() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"threshold_changed", d.ThresholdChanged,
		"log_level_changed", d.LogLevelChanged,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so apply may call Current.
	if w.apply != nil {
		w.apply(Reload{Old: old, New: cfg, Diff: d})
	}
}
