// Package events keeps a history of noise events: one entry per completed
// capture cycle, from the moment the gate opened to the end of playback.
//
// Two [Store] implementations are provided. [MemStore] is a bounded in-memory
// ring and the default. [PostgresStore] persists events in a noise_events
// table. [Async] sits in front of either so the capture goroutine never waits
// on storage.
package events

import (
	"context"
	"time"
)

// Outcome is how playback of a captured run ended.
type Outcome string

const (
	OutcomePlayed  Outcome = "played"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Event describes one capture-and-playback cycle.
type Event struct {
	// ID is assigned by the store. Zero until recorded.
	ID int64 `json:"id"`

	// Start is when the first frame of the run was buffered.
	Start time.Time `json:"start"`

	// End is when playback (including the settle delay) finished.
	End time.Time `json:"end"`

	Frames int `json:"frames"`
	Bytes  int `json:"bytes"`

	// Peak is the highest frame peak seen during the run.
	Peak int16 `json:"peak"`

	// Reason is why the run was flushed: "trailing" or "overflow".
	Reason string `json:"reason"`

	Outcome Outcome `json:"outcome"`

	// Error holds the playback error message for failed outcomes.
	Error string `json:"error,omitempty"`

	// PlaybackDuration is the time spent inside the sink, excluding the settle
	// delay.
	PlaybackDuration time.Duration `json:"playback_duration_ns"`
}

// Store persists and lists events. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record persists ev and assigns its ID.
	Record(ctx context.Context, ev Event) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)

	// Close releases the store's resources.
	Close() error
}

// Recorder accepts events without blocking. It reports false when the event
// was dropped.
type Recorder interface {
	Enqueue(ev Event) bool
}
