// Package gate implements the noise-activated capture state machine.
//
// A [Gate] consumes one frame and its peak at a time and decides whether the
// frame is buffered, whether the buffered run should be flushed to playback,
// or whether nothing happens. While a flushed run plays the gate is inert;
// the caller reports completion with [Gate.PlaybackDone].
//
// Lifecycle of a capture cycle:
//
//	Idle ──peak≥thr──▶ Capturing ──peak<thr──▶ Draining ──trailing exhausted──▶ Playing ──PlaybackDone──▶ Idle
//	                       ▲                      │
//	                       └──────peak≥thr────────┘
//
// A full buffer short-circuits either capturing state straight to Playing.
package gate

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// State is the gate's operating mode.
type State int

const (
	// Idle waits for a frame at or above the threshold.
	Idle State = iota

	// Capturing buffers frames while the signal stays loud.
	Capturing

	// Draining keeps buffering a limited number of quiet frames after the
	// signal dropped below the threshold.
	Draining

	// Playing ignores all frames until the flushed run has been played back.
	Playing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Draining:
		return "draining"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for c := Idle; c <= Playing; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("gate: unknown state %q", b)
}

// Action is what the caller must do with a frame after [Gate.Feed].
type Action int

const (
	// ActionIdle means the frame was not retained.
	ActionIdle Action = iota

	// ActionBuffer means the frame was appended to the capture buffer.
	ActionBuffer

	// ActionFlushAndPlay means the buffer was flushed and the returned frames
	// must be played back.
	ActionFlushAndPlay
)

// String returns the lower-case name of the action.
func (a Action) String() string {
	switch a {
	case ActionIdle:
		return "idle"
	case ActionBuffer:
		return "buffer"
	case ActionFlushAndPlay:
		return "flush_and_play"
	default:
		return "unknown"
	}
}

// FlushReason records why a run was handed to playback.
type FlushReason string

const (
	// ReasonTrailing: the trailing window of quiet frames was exhausted.
	ReasonTrailing FlushReason = "trailing"

	// ReasonOverflow: the capture buffer was full.
	ReasonOverflow FlushReason = "overflow"
)

// Decision is the outcome of feeding a single frame.
type Decision struct {
	Action Action
	From   State
	To     State

	// Frames holds the flushed run in arrival order. Only set for
	// ActionFlushAndPlay.
	Frames []audio.Frame

	// Reason is only set for ActionFlushAndPlay.
	Reason FlushReason
}

// Changed reports whether the decision moved the gate to a different state.
func (d Decision) Changed() bool { return d.From != d.To }

// Gate is the threshold state machine. It is not safe for concurrent use.
type Gate struct {
	buf      *Buffer
	limit    int
	state    State
	trailing int
}

// New returns a Gate in the Idle state that buffers into buf and keeps up to
// trailingFrames quiet frames after the signal drops.
func New(buf *Buffer, trailingFrames int) *Gate {
	return &Gate{buf: buf, limit: max(trailingFrames, 0)}
}

// State returns the current state.
func (g *Gate) State() State { return g.state }

// TrailingCount returns the number of quiet frames buffered in the current
// trailing window.
func (g *Gate) TrailingCount() int { return g.trailing }

// Buffer returns the capture buffer the gate appends to.
func (g *Gate) Buffer() *Buffer { return g.buf }

// Feed advances the state machine by one frame. A frame whose peak is at or
// above threshold is loud.
func (g *Gate) Feed(frame audio.Frame, peak int16, threshold int) Decision {
	loud := int(peak) >= threshold

	switch g.state {
	case Playing:
		return g.stay()

	case Idle:
		if !loud {
			return g.stay()
		}
		g.trailing = 0
		return g.append(frame, Capturing)

	default: // Capturing, Draining
		if loud {
			g.trailing = 0
			return g.append(frame, Capturing)
		}
		if g.trailing >= g.limit {
			return g.flush(ReasonTrailing)
		}
		d := g.append(frame, Draining)
		if d.Action == ActionFlushAndPlay {
			return d
		}
		g.trailing++
		if g.trailing >= g.limit {
			from := d.From
			d = g.flush(ReasonTrailing)
			d.From = from
		}
		return d
	}
}

// PlaybackDone returns the gate from Playing to Idle. It reports whether the
// state changed; calling it in any other state is a no-op.
func (g *Gate) PlaybackDone() bool {
	if g.state != Playing {
		return false
	}
	g.state = Idle
	g.trailing = 0
	return true
}

func (g *Gate) stay() Decision {
	return Decision{Action: ActionIdle, From: g.state, To: g.state}
}

// append buffers frame and moves to next, or flushes when the buffer is full.
// The frame that hit a full buffer is dropped.
func (g *Gate) append(frame audio.Frame, next State) Decision {
	if g.buf.Full() {
		return g.flush(ReasonOverflow)
	}
	if err := g.buf.Append(frame); err != nil {
		slog.Error("gate: append failed on non-full buffer", "err", err, "len", g.buf.Len(), "cap", g.buf.Cap())
		return g.flush(ReasonOverflow)
	}
	from := g.state
	g.state = next
	return Decision{Action: ActionBuffer, From: from, To: next}
}

func (g *Gate) flush(reason FlushReason) Decision {
	from := g.state
	frames := g.buf.Flush()
	if len(frames) == 0 {
		g.state = Idle
		g.trailing = 0
		return Decision{Action: ActionIdle, From: from, To: Idle}
	}
	g.state = Playing
	return Decision{Action: ActionFlushAndPlay, From: from, To: Playing, Frames: frames, Reason: reason}
}
