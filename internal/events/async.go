package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize is the Async queue capacity used when none is given.
const DefaultQueueSize = 64

// recordTimeout bounds a single write to the backing store.
const recordTimeout = 5 * time.Second

// AsyncOption configures an [Async].
type AsyncOption func(*Async)

// WithOnDrop registers fn to be called each time an event is dropped because
// the queue is full or the recorder is closed.
func WithOnDrop(fn func()) AsyncOption {
	return func(a *Async) { a.onDrop = fn }
}

// Async forwards events to a [Store] on a background goroutine. Enqueue never
// blocks: when the queue is full the event is dropped.
type Async struct {
	store  Store
	queue  chan Event
	onDrop func()
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ Recorder = (*Async)(nil)

// NewAsync starts the background writer for store.
func NewAsync(store Store, queueSize int, opts ...AsyncOption) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &Async{
		store: store,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := a.store.Record(ctx, ev); err != nil {
			slog.Warn("events: record failed", "err", err, "outcome", ev.Outcome, "frames", ev.Frames)
		}
		cancel()
	}
}

// Enqueue implements [Recorder].
func (a *Async) Enqueue(ev Event) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.closed {
		select {
		case a.queue <- ev:
			return true
		default:
		}
	}
	if a.onDrop != nil {
		a.onDrop()
	}
	slog.Debug("events: event dropped", "outcome", ev.Outcome, "frames", ev.Frames)
	return false
}

// Recent reads through to the backing store.
func (a *Async) Recent(ctx context.Context, limit int) ([]Event, error) {
	return a.store.Recent(ctx, limit)
}

// Store returns the backing store.
func (a *Async) Store() Store { return a.store }

// Close stops accepting events, writes everything still queued and closes the
// backing store.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.store.Close()
}
