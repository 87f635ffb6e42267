package events_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/noisefighter/internal/events"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if NOISEFIGHTER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("NOISEFIGHTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NOISEFIGHTER_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the noise_events table and returns a freshly migrated
// store.
func newTestStore(t *testing.T) *events.PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS noise_events CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	store, err := events.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Microsecond)
	for i := range 3 {
		ev := events.Event{
			Start:            start.Add(time.Duration(i) * time.Second),
			End:              start.Add(time.Duration(i)*time.Second + 500*time.Millisecond),
			Frames:           10 + i,
			Bytes:            (10 + i) * 2048,
			Peak:             int16(20000 + i),
			Reason:           "trailing",
			Outcome:          events.OutcomePlayed,
			PlaybackDuration: 230 * time.Millisecond,
		}
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	if err := store.Record(ctx, events.Event{
		Start: start, End: start, Reason: "overflow",
		Outcome: events.OutcomeFailed, Error: "device gone",
	}); err != nil {
		t.Fatalf("Record failed event: %v", err)
	}

	got, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Outcome != events.OutcomeFailed || got[0].Error != "device gone" {
		t.Errorf("newest = %+v, want the failed event", got[0])
	}
	if got[1].Frames != 12 || got[1].Peak != 20002 || got[1].PlaybackDuration != 230*time.Millisecond {
		t.Errorf("second = %+v", got[1])
	}
	if !got[1].Start.Equal(start.Add(2 * time.Second)) {
		t.Errorf("start = %v, want %v", got[1].Start, start.Add(2*time.Second))
	}
	if got[0].ID <= got[1].ID {
		t.Errorf("ids not descending: %d, %d", got[0].ID, got[1].ID)
	}
}

func TestPostgresStore_MigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := events.Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
