package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlNoiseEvents = `
CREATE TABLE IF NOT EXISTS noise_events (
    id                   BIGSERIAL    PRIMARY KEY,
    started_at           TIMESTAMPTZ  NOT NULL,
    ended_at             TIMESTAMPTZ  NOT NULL,
    frames               INTEGER      NOT NULL,
    bytes                INTEGER      NOT NULL,
    peak                 SMALLINT     NOT NULL,
    reason               TEXT         NOT NULL,
    outcome              TEXT         NOT NULL,
    error                TEXT         NOT NULL DEFAULT '',
    playback_duration_ns BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_noise_events_started_at
    ON noise_events (started_at);
`

// Migrate creates the noise_events table if it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlNoiseEvents); err != nil {
		return fmt.Errorf("events migrate: %w", err)
	}
	return nil
}

// PostgresStore persists events in PostgreSQL. All methods are safe for
// concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("events store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("events store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("events store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("events store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, ev Event) error {
	const q = `
		INSERT INTO noise_events
		    (started_at, ended_at, frames, bytes, peak, reason, outcome, error, playback_duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		ev.Start,
		ev.End,
		ev.Frames,
		ev.Bytes,
		ev.Peak,
		ev.Reason,
		string(ev.Outcome),
		ev.Error,
		ev.PlaybackDuration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("events store: record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultMemorySize
	}
	const q = `
		SELECT id, started_at, ended_at, frames, bytes, peak, reason, outcome, error, playback_duration_ns
		FROM   noise_events
		ORDER  BY id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("events store: recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			ev         Event
			outcome    string
			durationNS int64
		)
		if err := row.Scan(
			&ev.ID,
			&ev.Start,
			&ev.End,
			&ev.Frames,
			&ev.Bytes,
			&ev.Peak,
			&ev.Reason,
			&outcome,
			&ev.Error,
			&durationNS,
		); err != nil {
			return Event{}, err
		}
		ev.Outcome = Outcome(outcome)
		ev.PlaybackDuration = time.Duration(durationNS)
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("events store: scan rows: %w", err)
	}
	if out == nil {
		out = []Event{}
	}
	return out, nil
}

// Ping checks database connectivity. It backs the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
