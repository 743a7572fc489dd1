package acks

import (
	"context"
	"fmt"
)

type migration struct {
	version string
	sql     string
}

// Migrations run in version order inside a single transaction. Applied
// versions are recorded in schema_migrations and never rerun.
var migrations = []migration{
	{
		version: "0001_pending_acks",
		sql: `CREATE TABLE pending_acks (
            submission_id TEXT PRIMARY KEY,
            pod_id TEXT NOT NULL,
            created_at TEXT NOT NULL
        );
        CREATE INDEX idx_pending_acks_pod ON pending_acks (pod_id, created_at);`,
	},
	{
		version: "0002_completed_acks",
		sql: `CREATE TABLE completed_acks (
            submission_id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            errors_json TEXT NOT NULL DEFAULT '[]',
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );
        CREATE INDEX idx_completed_acks_status ON completed_acks (status);`,
	},
}

func (s *Store) applyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		row := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", m.version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}
