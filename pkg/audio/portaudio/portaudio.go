// Package portaudio implements [audio.FrameSource] and [audio.PlaybackSink]
// on top of PortAudio blocking streams.
//
// [Initialize] must be called once before any stream is opened and
// [Terminate] once after the last stream is closed.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// Initialize initialises the PortAudio host library.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio init: %w", audio.ErrDevice, err)
	}
	return nil
}

// Terminate releases the PortAudio host library.
func Terminate() error {
	return portaudio.Terminate()
}

// Device describes an audio device reported by the host.
type Device struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
}

// ListDevices returns every device the host reports.
func ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", audio.ErrDevice, err)
	}
	out := make([]Device, 0, len(devices))
	for i, d := range devices {
		out = append(out, Device{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}

// stream is the subset of *portaudio.Stream used here.
type stream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// resolveDevice picks the device whose name equals or starts with name. An
// empty name selects the host default via fallback.
func resolveDevice(devices []*portaudio.DeviceInfo, name string, wantInput bool, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if name == "" {
		d, err := fallback()
		if err != nil {
			return nil, fmt.Errorf("%w: default device: %w", audio.ErrDevice, err)
		}
		return d, nil
	}
	usable := func(d *portaudio.DeviceInfo) bool {
		if wantInput {
			return d.MaxInputChannels > 0
		}
		return d.MaxOutputChannels > 0
	}
	var prefix *portaudio.DeviceInfo
	for _, d := range devices {
		if !usable(d) {
			continue
		}
		if d.Name == name {
			return d, nil
		}
		if prefix == nil && strings.HasPrefix(d.Name, name) {
			prefix = d
		}
	}
	if prefix != nil {
		return prefix, nil
	}
	return nil, fmt.Errorf("%w: device not found: %q", audio.ErrDevice, name)
}

// ─── Capture ─────────────────────────────────────────────────────────────────

// Capture reads mono 16-bit frames from an input device.
type Capture struct {
	stream stream
	buf    []int16
	format audio.Format
	name   string

	closeOnce sync.Once
	closeErr  error
}

// OpenCapture opens and starts an input stream on the named device (empty for
// the host default) delivering frameSamples samples per read.
func OpenCapture(device string, sampleRate, frameSamples int) (*Capture, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", audio.ErrDevice, err)
	}
	info, err := resolveDevice(devices, device, true, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, err
	}

	buf := make([]int16, frameSamples)
	p := portaudio.LowLatencyParameters(info, nil)
	p.Input.Channels = 1
	p.Output.Channels = 0
	p.SampleRate = float64(sampleRate)
	p.FramesPerBuffer = frameSamples

	s, err := portaudio.OpenStream(p, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input %q: %w", audio.ErrDevice, info.Name, err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: start input %q: %w", audio.ErrDevice, info.Name, err)
	}
	slog.Info("portaudio: capture started", "device", info.Name, "sample_rate", sampleRate, "frame_samples", frameSamples)

	return &Capture{stream: s, buf: buf, format: audio.Mono(sampleRate), name: info.Name}, nil
}

// Format implements [audio.FrameSource].
func (c *Capture) Format() audio.Format { return c.format }

// FrameSize implements [audio.FrameSource].
func (c *Capture) FrameSize() int { return len(c.buf) * audio.BytesPerSample }

// ReadFrame implements [audio.FrameSource]. It blocks until the device has
// delivered a full frame. The returned frame is freshly allocated.
func (c *Capture) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.stream.Read(); err != nil {
		// An overflow means samples were lost but the buffer is still valid.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("%w: read %q: %w", audio.ErrDevice, c.name, err)
		}
		slog.Debug("portaudio: input overflowed", "device", c.name)
	}
	return audio.Frame(audio.EncodeSamples(c.buf)), nil
}

// Close stops and closes the input stream. Stopping unblocks a pending
// ReadFrame on another goroutine.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.stream.Stop(), c.stream.Close())
	})
	return c.closeErr
}

// ─── Playback ────────────────────────────────────────────────────────────────

// Playback writes PCM to an output device.
type Playback struct {
	stream stream
	buf    []int16
	name   string

	closeOnce sync.Once
	closeErr  error
}

// OpenPlayback opens and starts an output stream on the named device (empty
// for the host default).
func OpenPlayback(device string, sampleRate, frameSamples int) (*Playback, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", audio.ErrDevice, err)
	}
	info, err := resolveDevice(devices, device, false, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, err
	}

	buf := make([]int16, frameSamples)
	p := portaudio.LowLatencyParameters(nil, info)
	p.Input.Channels = 0
	p.Output.Channels = 1
	p.SampleRate = float64(sampleRate)
	p.FramesPerBuffer = frameSamples

	s, err := portaudio.OpenStream(p, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open output %q: %w", audio.ErrDevice, info.Name, err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: start output %q: %w", audio.ErrDevice, info.Name, err)
	}
	slog.Info("portaudio: playback started", "device", info.Name, "sample_rate", sampleRate)

	return &Playback{stream: s, buf: buf, name: info.Name}, nil
}

// Play implements [audio.PlaybackSink]. It writes pcm in stream-buffer sized
// chunks and returns once the last chunk has been accepted by the device. The
// final chunk is padded with silence.
func (p *Playback) Play(ctx context.Context, pcm []byte) error {
	samples := audio.DecodeSamples(pcm)
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(p.buf, samples)
		clear(p.buf[n:])
		samples = samples[n:]
		if err := p.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				continue
			}
			return fmt.Errorf("%w: write %q: %w", audio.ErrDevice, p.name, err)
		}
	}
	return nil
}

// Close stops and closes the output stream.
func (p *Playback) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = errors.Join(p.stream.Stop(), p.stream.Close())
	})
	return p.closeErr
}

var (
	_ audio.FrameSource  = (*Capture)(nil)
	_ audio.PlaybackSink = (*Playback)(nil)
)
