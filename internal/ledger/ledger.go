package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// File statuses recorded in feed_import_log.
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

const schema = `
CREATE TABLE IF NOT EXISTS feed_runs (
	run_id         UUID PRIMARY KEY,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at    TIMESTAMPTZ,
	prev_watermark DOUBLE PRECISION NOT NULL,
	new_watermark  DOUBLE PRECISION,
	files          INTEGER NOT NULL DEFAULT 0,
	records        INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS feed_import_log (
	run_id       UUID NOT NULL REFERENCES feed_runs (run_id),
	file_name    TEXT NOT NULL,
	remote_mtime DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL,
	records      INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at  TIMESTAMPTZ,
	PRIMARY KEY (run_id, file_name)
);`

// Ledger keeps an audit trail of runs and the files each run handled.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to Postgres.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// New wraps an open database.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// DB returns the underlying handle.
func (l *Ledger) DB() *sql.DB { return l.db }

// EnsureSchema creates the ledger tables when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// BeginRun records a new run.
func (l *Ledger) BeginRun(ctx context.Context, runID uuid.UUID, prevWatermark float64) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO feed_runs (run_id, started_at, prev_watermark, status) VALUES ($1, $2, $3, $4)`,
		runID, l.now().UTC(), prevWatermark, StatusProcessing)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun closes a run with its totals.
func (l *Ledger) FinishRun(ctx context.Context, runID uuid.UUID, status string, newWatermark float64, files, records int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE feed_runs SET finished_at=$2, status=$3, new_watermark=$4, files=$5, records=$6 WHERE run_id=$1`,
		runID, l.now().UTC(), status, newWatermark, files, records)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// StartFile marks a selected file as being processed.
func (l *Ledger) StartFile(ctx context.Context, runID uuid.UUID, name string, mtime float64) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO feed_import_log (run_id, file_name, remote_mtime, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, file_name) DO NOTHING`,
		runID, name, mtime, StatusProcessing, l.now().UTC())
	if err != nil {
		return fmt.Errorf("start file %s: %w", name, err)
	}
	return nil
}

// FinishFile records the outcome of a file. A non-nil cause marks it failed.
func (l *Ledger) FinishFile(ctx context.Context, runID uuid.UUID, name string, records int, cause error) error {
	status := StatusDone
	var msg sql.NullString
	if cause != nil {
		status = StatusFailed
		msg = sql.NullString{String: cause.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE feed_import_log SET status=$3, records=$4, error=$5, finished_at=$6
		 WHERE run_id=$1 AND file_name=$2`,
		runID, name, status, records, msg, l.now().UTC())
	if err != nil {
		return fmt.Errorf("finish file %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }
