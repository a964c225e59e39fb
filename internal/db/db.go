package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jdsingh122918/forge-sub001/internal/pipeline"
)

// DB wraps a Postgres connection pool for run history. All write methods are
// nil-safe: a nil *DB silently drops writes, so the engine can run without a
// database configured.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using the given DSN and verifies connectivity.
func Open(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the connection pool.
func (d *DB) Close() {
	if d == nil || d.pool == nil {
		return
	}
	d.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    issue         INTEGER NOT NULL,
    title         TEXT NOT NULL,
    status        TEXT NOT NULL,
    current_phase TEXT,
    iterations    INTEGER NOT NULL DEFAULT 0,
    summary       TEXT,
    error         TEXT,
    branch        TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS phases (
    run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name         TEXT NOT NULL,
    status       TEXT NOT NULL,
    iterations   INTEGER NOT NULL DEFAULT 0,
    budget       INTEGER NOT NULL,
    sensitive    BOOLEAN NOT NULL DEFAULT FALSE,
    fix_attempts INTEGER NOT NULL DEFAULT 0,
    error        TEXT,
    started_at   TIMESTAMPTZ,
    finished_at  TIMESTAMPTZ,
    PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS run_events (
    id        BIGSERIAL PRIMARY KEY,
    run_id    TEXT NOT NULL,
    phase     TEXT,
    event     TEXT NOT NULL,
    detail    TEXT,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS arbiter_events (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL,
    phase       TEXT NOT NULL,
    specialist  TEXT NOT NULL,
    verdict     TEXT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL,
    fix_attempt INTEGER NOT NULL DEFAULT 0,
    summary     TEXT,
    timestamp   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_arbiter_events_run ON arbiter_events(run_id, phase);
`

// Migrate applies the schema. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if d == nil || d.pool == nil {
		return nil
	}
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SaveRunSnapshot upserts the current run state.
func (d *DB) SaveRunSnapshot(ctx context.Context, run *pipeline.PipelineRun) error {
	if d == nil || d.pool == nil {
		return nil
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO runs (id, issue, title, status, current_phase, iterations, summary, error, branch, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_phase = EXCLUDED.current_phase,
			iterations = EXCLUDED.iterations,
			summary = EXCLUDED.summary,
			error = EXCLUDED.error,
			branch = EXCLUDED.branch,
			updated_at = now()`,
		run.ID, run.Issue, run.Title, string(run.Status), run.CurrentPhase,
		run.Iterations, run.Summary, run.Error, run.Branch)
	if err != nil {
		return fmt.Errorf("save run snapshot: %w", err)
	}
	return nil
}

// SavePhaseSnapshot upserts the current state of one phase record.
func (d *DB) SavePhaseSnapshot(ctx context.Context, ph *pipeline.PipelinePhase) error {
	if d == nil || d.pool == nil {
		return nil
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO phases (run_id, name, status, iterations, budget, sensitive, fix_attempts, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::timestamptz, NULLIF($10, '')::timestamptz)
		ON CONFLICT (run_id, name) DO UPDATE SET
			status = EXCLUDED.status,
			iterations = EXCLUDED.iterations,
			sensitive = EXCLUDED.sensitive,
			fix_attempts = EXCLUDED.fix_attempts,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		ph.Run, ph.Name, string(ph.Status), ph.Iterations, ph.Budget,
		ph.Sensitive, ph.FixAttempts, ph.Error, ph.StartedAt, ph.FinishedAt)
	if err != nil {
		return fmt.Errorf("save phase snapshot: %w", err)
	}
	return nil
}

// LogRunEvent appends a lifecycle event to the run history.
func (d *DB) LogRunEvent(ctx context.Context, runID, phase, event, detail string) error {
	if d == nil || d.pool == nil {
		return nil
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO run_events (run_id, phase, event, detail) VALUES ($1, $2, $3, $4)`,
		runID, phase, event, detail)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// LogArbiterEvent records one review arbitration decision.
func (d *DB) LogArbiterEvent(ctx context.Context, runID, phase, specialist, verdict string, confidence float64, fixAttempt int, summary string) error {
	if d == nil || d.pool == nil {
		return nil
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO arbiter_events (run_id, phase, specialist, verdict, confidence, fix_attempt, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, phase, specialist, verdict, confidence, fixAttempt, summary)
	if err != nil {
		return fmt.Errorf("log arbiter event: %w", err)
	}
	return nil
}

// RunEvent is one row from the run_events table.
type RunEvent struct {
	RunID     string
	Phase     string
	Event     string
	Detail    string
	Timestamp time.Time
}

// RecentEvents returns the most recent events for a run, newest first.
func (d *DB) RecentEvents(ctx context.Context, runID string, limit int) ([]RunEvent, error) {
	if d == nil || d.pool == nil {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT run_id, COALESCE(phase, ''), event, COALESCE(detail, ''), timestamp
		FROM run_events WHERE run_id = $1
		ORDER BY timestamp DESC LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		if err := rows.Scan(&ev.RunID, &ev.Phase, &ev.Event, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
