// Package audio defines the device-neutral types of the noisefighter pipeline:
// the [Frame] and [Format] values that flow through it, the [FrameSource] and
// [PlaybackSink] device abstractions, and the [PeakAnalyzer] that drives the
// threshold gate.
//
// Implementations of the device interfaces live in sub-packages
// (audio/portaudio, audio/tone, audio/replay, audio/mock). The interfaces are
// kept narrow so the engine never depends on a particular driver.
//
// This package lives under pkg/ because external code is expected to supply
// its own capture and render devices.
package audio

import "context"

// FrameSource produces a sequential stream of fixed-size frames from a
// capture device.
//
// ReadFrame blocks until the next frame is available. It must return a newly
// allocated [Frame] on every call. When ctx is cancelled ReadFrame returns
// promptly (at most one device read later) with ctx.Err(). Device failures
// are wrapped with [ErrDevice].
//
// A FrameSource is driven by a single goroutine; implementations need not be
// safe for concurrent ReadFrame calls, but Close may be called from another
// goroutine to unblock a pending read.
type FrameSource interface {
	// Format returns the fixed format of every frame.
	Format() Format

	// FrameSize returns the byte length of every frame, as reported by the
	// device.
	FrameSize() int

	// ReadFrame returns the next frame.
	ReadFrame(ctx context.Context) (Frame, error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// PlaybackSink renders raw PCM to an output device.
//
// Play blocks until pcm has been handed to the device. Errors are wrapped
// with [ErrDevice]. Implementations must be safe to call from the capture
// goroutine only; the engine never plays concurrently.
type PlaybackSink interface {
	// Play writes pcm (same format as the source) to the device.
	Play(ctx context.Context, pcm []byte) error

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Discard is a [PlaybackSink] that drops everything. Useful for headless
// operation where only the WAV recording matters.
type Discard struct{}

// Play implements [PlaybackSink].
func (Discard) Play(ctx context.Context, _ []byte) error {
	return ctx.Err()
}

// Close implements [PlaybackSink].
func (Discard) Close() error { return nil }
