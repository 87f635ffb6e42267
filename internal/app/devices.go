package app

import (
	"github.com/MrWong99/noisefighter/internal/config"
	"github.com/MrWong99/noisefighter/pkg/audio"
	"github.com/MrWong99/noisefighter/pkg/audio/portaudio"
	"github.com/MrWong99/noisefighter/pkg/audio/replay"
	"github.com/MrWong99/noisefighter/pkg/audio/tone"
)

// RegisterBuiltinDevices wires every device that ships with noisefighter
// into reg. PortAudio devices need [portaudio.Initialize] to have been called
// by the process.
func RegisterBuiltinDevices(reg *config.Registry) {
	reg.RegisterSource(config.SourcePortAudio, func(c config.AudioConfig) (audio.FrameSource, error) {
		src, err := portaudio.OpenCapture(c.InputDevice, c.SampleRate, c.FrameSamples)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
	reg.RegisterSource(config.SourceTone, func(c config.AudioConfig) (audio.FrameSource, error) {
		return tone.New(c.SampleRate, c.FrameSamples,
			tone.WithFrequency(c.Tone.Frequency),
			tone.WithAmplitude(c.Tone.Amplitude),
			tone.WithRealtime(boolOr(c.Tone.Realtime, true)),
		), nil
	})
	reg.RegisterSource(config.SourceReplay, func(c config.AudioConfig) (audio.FrameSource, error) {
		src, err := replay.Open(c.Replay.Path, c.SampleRate, c.FrameSamples,
			replay.WithLoop(c.Replay.Loop),
			replay.WithRealtime(boolOr(c.Replay.Realtime, true)),
		)
		if err != nil {
			return nil, err
		}
		return src, nil
	})

	reg.RegisterSink(config.SinkPortAudio, func(c config.AudioConfig, device string) (audio.PlaybackSink, error) {
		sink, err := portaudio.OpenPlayback(device, c.SampleRate, c.FrameSamples)
		if err != nil {
			return nil, err
		}
		return sink, nil
	})
	reg.RegisterSink(config.SinkDiscard, func(config.AudioConfig, string) (audio.PlaybackSink, error) {
		return audio.Discard{}, nil
	})
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
