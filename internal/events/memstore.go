package events

import (
	"context"
	"sync"
)

// DefaultMemorySize is the ring capacity used when none is given.
const DefaultMemorySize = 256

// MemStore keeps the most recent events in a fixed-size ring. Older events are
// overwritten.
type MemStore struct {
	mu     sync.Mutex
	ring   []Event
	next   int
	count  int
	nextID int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore holding up to size events.
func NewMemStore(size int) *MemStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &MemStore{ring: make([]Event, size)}
}

// Record implements [Store].
func (m *MemStore) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	m.ring[m.next] = ev
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	return nil
}

// Recent implements [Store].
func (m *MemStore) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > m.count {
		limit = m.count
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out, nil
}

// Close implements [Store]. It is a no-op.
func (m *MemStore) Close() error { return nil }
