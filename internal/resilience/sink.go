package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// ErrAllFailed is returned by [FallbackSink.Play] when every sink failed or
// had an open breaker.
var ErrAllFailed = errors.New("all playback sinks failed")

// GuardedSink is an [audio.PlaybackSink] whose Play calls go through a
// [CircuitBreaker].
type GuardedSink struct {
	sink    audio.PlaybackSink
	breaker *CircuitBreaker
}

var _ audio.PlaybackSink = (*GuardedSink)(nil)

// NewGuardedSink wraps sink in a breaker built from cfg.
func NewGuardedSink(sink audio.PlaybackSink, cfg CircuitBreakerConfig) *GuardedSink {
	return &GuardedSink{sink: sink, breaker: NewCircuitBreaker(cfg)}
}

// Play implements [audio.PlaybackSink]. While the breaker is open it returns
// [ErrCircuitOpen] without touching the device.
func (g *GuardedSink) Play(ctx context.Context, pcm []byte) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.sink.Play(ctx, pcm)
	})
}

// Breaker exposes the breaker for status reporting.
func (g *GuardedSink) Breaker() *CircuitBreaker { return g.breaker }

// Close implements [audio.PlaybackSink].
func (g *GuardedSink) Close() error { return g.sink.Close() }

// FallbackSink plays through the first healthy sink of an ordered list. Each
// sink has its own breaker, so a dead primary device is skipped without delay
// until its reset timeout elapses.
type FallbackSink struct {
	entries []*GuardedSink
}

var _ audio.PlaybackSink = (*FallbackSink)(nil)

// NewFallbackSink returns a FallbackSink trying entries in order. It needs at
// least one entry.
func NewFallbackSink(entries ...*GuardedSink) *FallbackSink {
	return &FallbackSink{entries: entries}
}

// Play implements [audio.PlaybackSink]. The same pcm is handed to each sink
// until one succeeds.
func (f *FallbackSink) Play(ctx context.Context, pcm []byte) error {
	var lastErr error
	for _, e := range f.entries {
		err := e.Play(ctx, pcm)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping playback sink (circuit open)", "sink", e.breaker.Name())
		} else {
			slog.Warn("playback sink failed, trying next", "sink", e.breaker.Name(), "err", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Breakers lists the breakers in fallback order.
func (f *FallbackSink) Breakers() []*CircuitBreaker {
	out := make([]*CircuitBreaker, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.breaker
	}
	return out
}

// Close closes every sink and joins their errors.
func (f *FallbackSink) Close() error {
	var errs []error
	for _, e := range f.entries {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
