package audio

import (
	"errors"
	"fmt"
)

// BitsPerSample is the only sample width the pipeline handles.
const BitsPerSample = 16

// BytesPerSample is the byte width of one little-endian int16 sample.
const BytesPerSample = BitsPerSample / 8

// ErrDevice marks a capture or playback device failure. Sources and sinks wrap
// their driver errors with it so callers can tell a broken device apart from
// cancellation.
var ErrDevice = errors.New("audio device failure")

// Frame is one read from a [FrameSource]: interleaved little-endian int16
// samples, mono. A Frame is never modified after it has been handed out, and
// sources allocate a fresh slice for every read so the pipeline may retain it.
type Frame []byte

// Samples returns the number of complete samples in the frame.
func (f Frame) Samples() int {
	return len(f) / BytesPerSample
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at rate Hz.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// ByteRate is the number of bytes per second of audio in this format.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// BlockAlign is the byte width of one sample frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * BitsPerSample / 8
}

// Validate reports whether f is usable by the pipeline. Only mono is accepted.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("audio: %d channels not supported, only mono", f.Channels)
	}
	return nil
}

// String returns a human-readable form such as "44100Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
