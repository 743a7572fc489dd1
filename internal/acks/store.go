package acks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"taxwire/internal/config"
)

// Store persists pending and completed acknowledgements in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the acknowledgement database and
// applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "acks.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path reports the database file location.
func (s *Store) Path() string {
	return s.path
}

// AddPending records submissions that are awaiting acknowledgement.
// Re-adding an already pending submission is a no-op.
func (s *Store) AddPending(ctx context.Context, podID string, submissionIDs []string) error {
	if len(submissionIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pending tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range submissionIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO pending_acks (submission_id, pod_id, created_at) VALUES (?, ?, ?)`,
			id, podID, now,
		); err != nil {
			return fmt.Errorf("insert pending ack %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pending tx: %w", err)
	}
	return nil
}

// Pending returns pending acknowledgements for the given pod, oldest
// first.
func (s *Store) Pending(ctx context.Context, podID string) ([]Pending, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, pod_id, created_at FROM pending_acks WHERE pod_id = ? ORDER BY created_at, submission_id`,
		podID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending acks: %w", err)
	}
	defer rows.Close()

	var pending []Pending
	for rows.Next() {
		var p Pending
		var created string
		if err := rows.Scan(&p.SubmissionID, &p.PodID, &created); err != nil {
			return nil, fmt.Errorf("scan pending ack: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending acks: %w", err)
	}
	return pending, nil
}

// Complete moves a submission from pending to completed with the given
// outcome. Completing an already completed submission overwrites the
// stored outcome.
func (s *Store) Complete(ctx context.Context, submissionID string, status Status, details []RejectionDetail) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal rejection details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO completed_acks (submission_id, status, errors_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(submission_id) DO UPDATE SET status = excluded.status, errors_json = excluded.errors_json, updated_at = excluded.updated_at`,
		submissionID, string(status), string(payload), now, now,
	); err != nil {
		return fmt.Errorf("insert completed ack %s: %w", submissionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_acks WHERE submission_id = ?`, submissionID,
	); err != nil {
		return fmt.Errorf("delete pending ack %s: %w", submissionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}
	return nil
}

// Completed returns the stored outcome for a submission, or nil when no
// acknowledgement has been resolved yet.
func (s *Store) Completed(ctx context.Context, submissionID string) (*Completed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT submission_id, status, errors_json, created_at, updated_at FROM completed_acks WHERE submission_id = ?`,
		submissionID,
	)
	var c Completed
	var status, errorsJSON, created, updated string
	if err := row.Scan(&c.SubmissionID, &status, &errorsJSON, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan completed ack: %w", err)
	}
	c.Status = Status(status)
	if errorsJSON != "" {
		if err := json.Unmarshal([]byte(errorsJSON), &c.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal rejection details: %w", err)
		}
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &c, nil
}

// Stats reports pending and completed counts for status surfaces.
func (s *Store) Stats(ctx context.Context, podID string) (pending int, completed map[Status]int, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM pending_acks WHERE pod_id = ?`, podID,
	)
	if err := row.Scan(&pending); err != nil {
		return 0, nil, fmt.Errorf("count pending acks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM completed_acks GROUP BY status`,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("count completed acks: %w", err)
	}
	defer rows.Close()

	completed = make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, nil, fmt.Errorf("scan completed count: %w", err)
		}
		completed[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate completed counts: %w", err)
	}
	return pending, completed, nil
}
