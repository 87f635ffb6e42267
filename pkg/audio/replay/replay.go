// Package replay feeds a recorded WAV file back through the pipeline as an
// [audio.FrameSource]. It is used to tune the gate threshold against real
// recordings and to drive deterministic end-to-end runs.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// ErrFormatMismatch is returned by [Open] when the file's sample rate differs
// from the rate the pipeline runs at. Files are never resampled.
var ErrFormatMismatch = errors.New("replay: sample rate mismatch")

// Option configures a [Source].
type Option func(*Source)

// WithLoop rewinds to the start of the file at end of data instead of
// reporting io.EOF.
func WithLoop(on bool) Option {
	return func(s *Source) { s.loop = on }
}

// WithRealtime paces reads to the file's sample rate.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// Source reads fixed-size frames from a 16-bit mono PCM WAV file.
type Source struct {
	f        *os.File
	dec      *wav.Decoder
	format   audio.Format
	samples  int
	loop     bool
	realtime bool
	pacer    audio.Pacer
	buf      goaudio.IntBuffer

	closeOnce sync.Once
	closeErr  error
}

// Open opens path and validates that it holds 16-bit mono PCM recorded at
// sampleRate. A file at any other rate fails with [ErrFormatMismatch].
func Open(path string, sampleRate, frameSamples int, opts ...Option) (*Source, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("replay: sample rate must be positive, got %d", sampleRate)
	}
	if frameSamples <= 0 {
		return nil, fmt.Errorf("replay: frame size must be positive, got %d", frameSamples)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("replay: %s is not a valid WAV file", path)
	}
	if dec.WavAudioFormat != 1 || dec.BitDepth != audio.BitsPerSample || dec.NumChans != 1 {
		f.Close()
		return nil, fmt.Errorf("replay: %s: want 16-bit mono PCM, got format %d, %d-bit, %d channels",
			path, dec.WavAudioFormat, dec.BitDepth, dec.NumChans)
	}
	if rate := int(dec.SampleRate); rate != sampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d Hz, pipeline runs at %d Hz", ErrFormatMismatch, path, rate, sampleRate)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("replay: %s: %w", path, err)
	}

	format := audio.Mono(sampleRate)
	s := &Source{
		f:       f,
		dec:     dec,
		format:  format,
		samples: frameSamples,
		buf: goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: format.SampleRate},
			Data:           make([]int, frameSamples),
			SourceBitDepth: audio.BitsPerSample,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Format implements [audio.FrameSource].
func (s *Source) Format() audio.Format { return s.format }

// FrameSize implements [audio.FrameSource].
func (s *Source) FrameSize() int { return s.samples * audio.BytesPerSample }

// ReadFrame implements [audio.FrameSource]. The final frame of a file may be
// shorter than FrameSize. Without looping, io.EOF is returned once the data
// chunk is exhausted.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := s.read()
	if err != nil {
		return nil, err
	}
	if n == 0 && s.loop {
		if err := s.rewind(); err != nil {
			return nil, err
		}
		n, err = s.read()
	}
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}

	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(s.buf.Data[i])
	}

	if s.realtime {
		if err := s.pacer.Wait(ctx, s.format.FrameDuration(n)); err != nil {
			return nil, err
		}
	}
	return audio.Frame(audio.EncodeSamples(samples)), nil
}

func (s *Source) read() (int, error) {
	s.buf.Data = s.buf.Data[:cap(s.buf.Data)]
	n, err := s.dec.PCMBuffer(&s.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("replay: decode: %w", err)
	}
	return n, nil
}

func (s *Source) rewind() error {
	// Rewind re-parses the header and positions the decoder at the data chunk.
	if err := s.dec.Rewind(); err != nil {
		return fmt.Errorf("replay: rewind: %w", err)
	}
	return nil
}

// Close implements [audio.FrameSource].
func (s *Source) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.f.Close() })
	return s.closeErr
}

var _ audio.FrameSource = (*Source)(nil)
