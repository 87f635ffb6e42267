package audio

import (
	"encoding/binary"
	"fmt"
)

// SampleAt decodes the little-endian int16 sample at sample index i.
// The caller guarantees (i+1)*2 <= len(pcm).
func SampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

// DecodeSamples converts little-endian int16 PCM bytes to samples. A trailing
// odd byte is ignored.
func DecodeSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = SampleAt(pcm, i)
	}
	return out
}

// EncodeSamples converts samples to little-endian int16 PCM bytes.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	PutSamples(out, samples)
	return out
}

// PutSamples writes samples into dst as little-endian int16 PCM. dst must be
// at least len(samples)*2 bytes long.
func PutSamples(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(s))
	}
}

// Concat joins frames in order into a single PCM buffer. Frames may differ in
// length; the result is exactly the sum of their lengths.
func Concat(frames []Frame) []byte {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// FloatToSample converts a float sample in [-1, 1] to int16, clamping values
// outside that range.
func FloatToSample(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "44100Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
