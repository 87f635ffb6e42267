package gate

import (
	"errors"

	"github.com/MrWong99/noisefighter/pkg/audio"
)

// ErrCapacityExceeded is returned by [Buffer.Append] when the buffer already
// holds its maximum number of frames.
var ErrCapacityExceeded = errors.New("gate: capture buffer capacity exceeded")

// Buffer is a bounded FIFO of frames. It is not safe for concurrent use; the
// capture goroutine is its only user.
type Buffer struct {
	frames []audio.Frame
	max    int
	bytes  int
}

// NewBuffer returns an empty Buffer holding at most max frames.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

// Append adds f to the tail of the buffer.
func (b *Buffer) Append(f audio.Frame) error {
	if b.Full() {
		return ErrCapacityExceeded
	}
	b.frames = append(b.frames, f)
	b.bytes += len(f)
	return nil
}

// Flush removes and returns every buffered frame in arrival order. The buffer
// is empty afterwards.
func (b *Buffer) Flush() []audio.Frame {
	out := b.frames
	b.frames = nil
	b.bytes = 0
	return out
}

// Len is the number of buffered frames.
func (b *Buffer) Len() int { return len(b.frames) }

// Cap is the maximum number of frames the buffer holds.
func (b *Buffer) Cap() int { return b.max }

// Full reports whether the next Append would fail with
// [ErrCapacityExceeded].
func (b *Buffer) Full() bool { return len(b.frames) >= b.max }

// IsEmpty reports whether no frames are buffered.
func (b *Buffer) IsEmpty() bool { return len(b.frames) == 0 }

// Bytes is the total length of all buffered frames.
func (b *Buffer) Bytes() int { return b.bytes }
