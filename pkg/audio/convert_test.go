package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestDecodeSamples(t *testing.T) {
	in := samplesToBytes([]int16{0, 1, -1, 32767, -32768})
	got := audio.DecodeSamples(in)
	want := []int16{0, 1, -1, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDecodeSamples_OddByteIgnored(t *testing.T) {
	in := append(samplesToBytes([]int16{500}), 0x7f)
	got := audio.DecodeSamples(in)
	if len(got) != 1 || got[0] != 500 {
		t.Errorf("got %v, want [500]", got)
	}
}

func TestEncodeSamples_MatchesLittleEndian(t *testing.T) {
	samples := []int16{-2, 258, 12345}
	got := audio.EncodeSamples(samples)
	want := samplesToBytes(samples)
	if string(got) != string(want) {
		t.Errorf("EncodeSamples = %v, want %v", got, want)
	}
}

func TestConcat_PreservesOrder(t *testing.T) {
	frames := []audio.Frame{
		audio.Frame{1, 2},
		audio.Frame{3, 4, 5, 6},
		audio.Frame{},
		audio.Frame{7, 8},
	}
	got := audio.Concat(frames)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if string(got) != string(want) {
		t.Errorf("Concat = %v, want %v", got, want)
	}
}

func TestConcat_Empty(t *testing.T) {
	if got := audio.Concat(nil); len(got) != 0 {
		t.Errorf("Concat(nil) length = %d, want 0", len(got))
	}
}

func TestFloatToSample_Clamps(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{2.5, 32767},
		{-3, -32767},
	}
	for _, tt := range tests {
		if got := audio.FloatToSample(tt.in); got != tt.want {
			t.Errorf("FloatToSample(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	f := audio.Mono(44100)
	if got := f.ByteRate(); got != 88200 {
		t.Errorf("ByteRate = %d, want 88200", got)
	}
	if got := f.BlockAlign(); got != 2 {
		t.Errorf("BlockAlign = %d, want 2", got)
	}
	if got := f.String(); got != "44100Hz mono" {
		t.Errorf("String = %q, want %q", got, "44100Hz mono")
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Validate mono: %v", err)
	}
	if err := (audio.Format{SampleRate: 48000, Channels: 2}).Validate(); err == nil {
		t.Error("Validate stereo: expected error")
	}
	if err := (audio.Format{SampleRate: 0, Channels: 1}).Validate(); err == nil {
		t.Error("Validate zero rate: expected error")
	}
}
