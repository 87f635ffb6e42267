// Package mock provides in-memory mock implementations of the
// [audio.FrameSource] and [audio.PlaybackSink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []audio.Frame{loud, quiet}}
//	sink := &mock.Sink{}
//	eng := engine.New(src, sink, engine.Config{...})
//	_ = eng.Run(ctx) // returns once the scripted frames are exhausted
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.FrameSource] that replays a fixed
// list of frames. Once Frames is exhausted, ReadFrame returns EndError (or
// blocks until ctx is done when Block is set).
type Source struct {
	mu sync.Mutex

	// Frames are returned in order by ReadFrame. Each returned frame is a copy.
	Frames []audio.Frame

	// FormatResult is returned by Format. Defaults to 44100 Hz mono.
	FormatResult audio.Format

	// EndError is returned after the last frame. Defaults to a wrapped
	// [audio.ErrDevice] around io.EOF so the engine stops.
	EndError error

	// Block makes ReadFrame wait for ctx cancellation instead of returning
	// EndError once Frames is exhausted.
	Block bool

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next int
}

// Format implements [audio.FrameSource].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult.SampleRate == 0 {
		return audio.Mono(44100)
	}
	return s.FormatResult
}

// FrameSize implements [audio.FrameSource]. Returns the length of the first
// scripted frame, or 0 when none are scripted.
func (s *Source) FrameSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0])
}

// ReadFrame implements [audio.FrameSource].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.CallCountReadFrame++
	if s.next < len(s.Frames) {
		f := append(audio.Frame(nil), s.Frames[s.next]...)
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	block := s.Block
	endErr := s.EndError
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if endErr == nil {
		endErr = fmt.Errorf("%w: %w", audio.ErrDevice, io.EOF)
	}
	return nil, endErr
}

// Close implements [audio.FrameSource].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Remaining returns the number of scripted frames not yet read.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames) - s.next
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.PlaybackSink]. Every Play call is
// recorded in Played.
type Sink struct {
	mu sync.Mutex

	// PlayError is returned by Play when non-nil. The PCM is still recorded.
	PlayError error

	// OnPlay, when set, is called synchronously inside Play with the PCM.
	OnPlay func(pcm []byte)

	// Played holds a copy of the PCM passed to each Play call, in order.
	Played [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.PlaybackSink].
func (s *Sink) Play(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	s.Played = append(s.Played, append([]byte(nil), pcm...))
	err := s.PlayError
	hook := s.OnPlay
	s.mu.Unlock()
	if hook != nil {
		hook(pcm)
	}
	return err
}

// Close implements [audio.PlaybackSink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Plays returns a snapshot of the recorded Play calls.
func (s *Sink) Plays() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Played))
	copy(out, s.Played)
	return out
}

// SetPlayError replaces PlayError under the mock's lock.
func (s *Sink) SetPlayError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayError = err
}

// Compile-time interface checks.
var (
	_ audio.FrameSource  = (*Source)(nil)
	_ audio.PlaybackSink = (*Sink)(nil)
)
