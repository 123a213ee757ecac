// Package history persists batch runs and per-file results in a SQLite
// journal so past runs can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/notstpa/smartremux/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	input_dir TEXT NOT NULL,
	container TEXT NOT NULL,
	total INTEGER NOT NULL,
	done INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	cancelled INTEGER NOT NULL DEFAULT 0,
	bytes_in INTEGER NOT NULL DEFAULT 0,
	bytes_out INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL REFERENCES batches(id),
	path TEXT NOT NULL,
	output_path TEXT,
	status TEXT NOT NULL,
	stage TEXT,
	error TEXT,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	bytes_in INTEGER NOT NULL DEFAULT 0,
	bytes_out INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_results_batch ON results(batch_id);
`

// BatchRecord is one row of the batches table.
type BatchRecord struct {
	ID         string
	InputDir   string
	Container  string
	Total      int
	Done       int
	Skipped    int
	Failed     int
	Cancelled  int
	BytesIn    int64
	BytesOut   int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal is the SQLite-backed run history.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database, applying the schema.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// StartBatch records a new batch run and returns its generated ID.
func (j *Journal) StartBatch(ctx context.Context, inputDir string, container model.Container, total int) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO batches (id, input_dir, container, total, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, inputDir, string(container), total, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to insert batch: %w", err)
	}
	return id, nil
}

// RecordResult appends one file outcome to a batch.
func (j *Journal) RecordResult(ctx context.Context, batchID string, r model.JobResult) error {
	errText := ""
	if r.Err != nil {
		errText = r.Err.Error()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO results (batch_id, path, output_path, status, stage, error, elapsed_ms, bytes_in, bytes_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, batchID, r.Path, r.OutputPath, string(r.Status), r.Stage, errText,
		r.Elapsed.Milliseconds(), r.BytesIn, r.BytesOut)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// FinishBatch stores the final counters for a batch.
func (j *Journal) FinishBatch(ctx context.Context, batchID string, state *model.BatchState) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE batches
		SET done = ?, skipped = ?, failed = ?, cancelled = ?,
		    bytes_in = ?, bytes_out = ?, finished_at = ?
		WHERE id = ?
	`, state.Done, state.Skipped, state.Failed, state.Cancelled,
		state.BytesIn, state.BytesOut,
		time.Now().UTC().Format(time.RFC3339), batchID)
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	return nil
}

// RecentBatches returns the newest batches, most recent first.
func (j *Journal) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, input_dir, container, total, done, skipped, failed, cancelled,
		       bytes_in, bytes_out, started_at, finished_at
		FROM batches
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var records []BatchRecord
	for rows.Next() {
		var rec BatchRecord
		var startedAt string
		var finishedAt sql.NullString

		err := rows.Scan(&rec.ID, &rec.InputDir, &rec.Container, &rec.Total,
			&rec.Done, &rec.Skipped, &rec.Failed, &rec.Cancelled,
			&rec.BytesIn, &rec.BytesOut, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}

		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt.String)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}
	return records, nil
}

// BatchResults returns all per-file results of one batch in insert order.
func (j *Journal) BatchResults(ctx context.Context, batchID string) ([]model.JobResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT path, output_path, status, stage, error, elapsed_ms, bytes_in, bytes_out
		FROM results
		WHERE batch_id = ?
		ORDER BY id ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []model.JobResult
	for rows.Next() {
		var r model.JobResult
		var status, errText string
		var elapsedMS int64

		err := rows.Scan(&r.Path, &r.OutputPath, &status, &r.Stage, &errText,
			&elapsedMS, &r.BytesIn, &r.BytesOut)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		r.Status = model.JobStatus(status)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if errText != "" {
			r.Err = errors.New(errText)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}
