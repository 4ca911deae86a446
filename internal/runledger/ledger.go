// Package runledger persists a record of every process run in an embedded
// SQLite database, so operators can correlate run directories with start and
// end times and with each run's diagnostic totals.
package runledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	dir        TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	frames     INTEGER NOT NULL DEFAULT 0,
	drops      INTEGER NOT NULL DEFAULT 0,
	freezes    INTEGER NOT NULL DEFAULT 0
);
`

// Ledger is the run registry.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("runledger: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runledger: open: %w", err)
	}
	// modernc/sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY churn for this low-volume table.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runledger: create schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// RecordStart inserts the run row at process start.
func (l *Ledger) RecordStart(ctx context.Context, runID, dir string, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, dir, started_at) VALUES (?, ?, ?)`,
		runID, dir, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("runledger: record start: %w", err)
	}
	return nil
}

// RecordEnd stamps the run's end time and final diagnostic totals.
func (l *Ledger) RecordEnd(ctx context.Context, runID string, frames, drops, freezes int64) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, frames = ?, drops = ?, freezes = ? WHERE run_id = ?`,
		time.Now().UTC(), frames, drops, freezes, runID)
	if err != nil {
		return fmt.Errorf("runledger: record end: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, dir, started_at, ended_at, frames, drops, freezes
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runledger: list runs: %w", err)
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var ended sql.NullTime
		if err := rows.Scan(&r.RunID, &r.Dir, &r.StartedAt, &ended, &r.Frames, &r.Drops, &r.Freezes); err != nil {
			return nil, fmt.Errorf("runledger: scan run: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
