// Package tone provides a synthetic [audio.FrameSource] that emits a sine
// wave. It stands in for a microphone on machines without a capture device
// and in end-to-end tests.
package tone

import (
	"context"
	"math"
	"time"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// DefaultFrequency is the tone frequency in Hz used when none is configured.
const DefaultFrequency = 1000

// Option configures a [Source].
type Option func(*Source)

// WithFrequency sets the sine frequency in Hz. Non-positive values are ignored.
func WithFrequency(hz float64) Option {
	return func(s *Source) {
		if hz > 0 {
			s.frequency = hz
		}
	}
}

// WithAmplitude sets the peak amplitude as a fraction of full scale, clamped
// to [0, 1].
func WithAmplitude(a float64) Option {
	return func(s *Source) {
		s.amplitude = math.Max(0, math.Min(1, a))
	}
}

// WithRealtime paces ReadFrame to the frame duration so the source behaves
// like a live device. Disabled, frames are produced as fast as they are read.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// Source generates a continuous sine wave in fixed-size frames.
type Source struct {
	format    audio.Format
	samples   int
	frequency float64
	amplitude float64
	realtime  bool

	angle float64
	pacer audio.Pacer
}

// New returns a Source producing frames of frameSamples samples at rate Hz.
// The default tone is a full-scale 1 kHz sine, paced in real time.
func New(rate, frameSamples int, opts ...Option) *Source {
	s := &Source{
		format:    audio.Mono(rate),
		samples:   frameSamples,
		frequency: DefaultFrequency,
		amplitude: 1,
		realtime:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Format implements [audio.FrameSource].
func (s *Source) Format() audio.Format { return s.format }

// FrameSize implements [audio.FrameSource].
func (s *Source) FrameSize() int { return s.samples * audio.BytesPerSample }

// FrameDuration is the wall-clock length of one frame.
func (s *Source) FrameDuration() time.Duration {
	return s.format.FrameDuration(s.samples)
}

// ReadFrame implements [audio.FrameSource].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	increment := 2 * math.Pi * s.frequency / float64(s.format.SampleRate)
	samples := make([]int16, s.samples)
	for i := range samples {
		samples[i] = audio.FloatToSample(s.amplitude * math.Sin(s.angle))
		s.angle += increment
	}
	// Keep the phase bounded so precision does not drift over long runs.
	s.angle = math.Mod(s.angle, 2*math.Pi)

	if s.realtime {
		if err := s.pacer.Wait(ctx, s.FrameDuration()); err != nil {
			return nil, err
		}
	}
	return audio.Frame(audio.EncodeSamples(samples)), nil
}

// Close implements [audio.FrameSource].
func (s *Source) Close() error { return nil }

var _ audio.FrameSource = (*Source)(nil)
