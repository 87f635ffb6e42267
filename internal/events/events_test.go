package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemStore_RecentNewestFirst(t *testing.T) {
	m := NewMemStore(3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := m.Record(ctx, Event{Frames: i}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (ring capacity)", len(got))
	}
	for i, want := range []int{5, 4, 3} {
		if got[i].Frames != want {
			t.Errorf("got[%d].Frames = %d, want %d", i, got[i].Frames, want)
		}
		if got[i].ID != int64(want) {
			t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}

func TestMemStore_RecentLimit(t *testing.T) {
	m := NewMemStore(10)
	ctx := context.Background()
	for i := range 4 {
		_ = m.Record(ctx, Event{Frames: i})
	}
	got, _ := m.Recent(ctx, 2)
	if len(got) != 2 || got[0].Frames != 3 || got[1].Frames != 2 {
		t.Errorf("Recent(2) = %+v", got)
	}
}

func TestMemStore_Empty(t *testing.T) {
	got, err := NewMemStore(0).Recent(context.Background(), 5)
	if err != nil || len(got) != 0 {
		t.Errorf("Recent = %v, %v; want empty", got, err)
	}
}

// blockingStore blocks in Record until release is closed.
type blockingStore struct {
	*MemStore
	release chan struct{}
	closed  atomic.Bool
}

func (b *blockingStore) Record(ctx context.Context, ev Event) error {
	<-b.release
	return b.MemStore.Record(ctx, ev)
}

func (b *blockingStore) Close() error {
	b.closed.Store(true)
	return nil
}

func TestAsync_DropsWhenFull(t *testing.T) {
	store := &blockingStore{MemStore: NewMemStore(10), release: make(chan struct{})}
	var drops atomic.Int32
	a := NewAsync(store, 1, WithOnDrop(func() { drops.Add(1) }))

	// The writer goroutine may pick up the first event and block in Record,
	// leaving one queue slot. Enqueue enough to overflow either way.
	accepted := 0
	for range 5 {
		if a.Enqueue(Event{}) {
			accepted++
		}
	}
	if accepted > 2 {
		t.Errorf("accepted %d events with queue size 1, want at most 2", accepted)
	}
	if int(drops.Load()) != 5-accepted {
		t.Errorf("drops = %d, want %d", drops.Load(), 5-accepted)
	}

	close(store.release)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	got, _ := store.MemStore.Recent(context.Background(), 10)
	if len(got) != accepted {
		t.Errorf("stored %d events, want %d", len(got), accepted)
	}
	if !store.closed.Load() {
		t.Error("backing store not closed")
	}
}

func TestAsync_CloseFlushesQueue(t *testing.T) {
	m := NewMemStore(100)
	a := NewAsync(m, 50)
	for i := range 20 {
		if !a.Enqueue(Event{Frames: i}) {
			t.Fatalf("event %d dropped", i)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Recent(context.Background(), 100)
	if len(got) != 20 {
		t.Errorf("stored %d events, want 20", len(got))
	}
}

func TestAsync_EnqueueAfterCloseDrops(t *testing.T) {
	var drops atomic.Int32
	a := NewAsync(NewMemStore(1), 1, WithOnDrop(func() { drops.Add(1) }))
	_ = a.Close()
	if a.Enqueue(Event{}) {
		t.Error("Enqueue after Close should report false")
	}
	if drops.Load() != 1 {
		t.Errorf("drops = %d, want 1", drops.Load())
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

type failingStore struct{ *MemStore }

func (failingStore) Record(context.Context, Event) error { return errors.New("disk full") }

func TestAsync_RecordErrorDoesNotStopWriter(t *testing.T) {
	a := NewAsync(failingStore{NewMemStore(1)}, 4)
	for range 3 {
		a.Enqueue(Event{})
	}
	done := make(chan struct{})
	go func() { _ = a.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestAsync_ConcurrentEnqueueAndClose(t *testing.T) {
	a := NewAsync(NewMemStore(1000), 16)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				a.Enqueue(Event{})
			}
		}()
	}
	time.Sleep(time.Millisecond)
	_ = a.Close()
	wg.Wait()
}
