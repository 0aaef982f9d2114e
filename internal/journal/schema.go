package journal

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are stored as unix milliseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		tasks TEXT NOT NULL,
		flow TEXT NOT NULL,
		steps INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS task_runs (
		run_id TEXT NOT NULL,
		context_id TEXT NOT NULL,
		step_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		PRIMARY KEY (run_id, context_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_runs_run_step ON task_runs(run_id, step_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
