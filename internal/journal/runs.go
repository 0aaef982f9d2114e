package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveRun inserts or updates a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, tasks, flow, steps, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tasks = excluded.tasks,
			flow = excluded.flow,
			steps = excluded.steps,
			status = excluded.status,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, run.ID, strings.Join(run.Tasks, ","), run.Flow, run.Steps, run.Status, run.Error,
		run.StartedAt.UnixMilli(), toMillis(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// FinishRun marks a run succeeded, or failed when runErr is non-nil.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, runErr error, finishedAt time.Time) error {
	status, errorStr := StatusSucceeded, ""
	if runErr != nil {
		status, errorStr = StatusFailed, runErr.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, errorStr, finishedAt.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tasks, flow, steps, status, error, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tasks, flow, steps, status, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// SaveTaskRun inserts or updates one task invocation. The run must exist.
func (s *SQLiteStore) SaveTaskRun(ctx context.Context, task *TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (run_id, context_id, step_id, name, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, context_id) DO UPDATE SET
			step_id = excluded.step_id,
			name = excluded.name,
			status = excluded.status,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, task.RunID, task.ContextID, task.StepID, task.Name, task.Status, task.Error,
		task.StartedAt.UnixMilli(), toMillis(task.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save task run %s/%s: %w", task.RunID, task.Name, err)
	}
	return nil
}

// ListTaskRuns returns the task invocations of a run in plan order.
func (s *SQLiteStore) ListTaskRuns(ctx context.Context, runID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, context_id, step_id, name, status, error, started_at, finished_at
		FROM task_runs
		WHERE run_id = ?
		ORDER BY step_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskRecord
	for rows.Next() {
		var (
			task     TaskRecord
			errorStr sql.NullString
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&task.RunID, &task.ContextID, &task.StepID, &task.Name, &task.Status, &errorStr, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		task.Error = errorStr.String
		task.StartedAt = time.UnixMilli(started)
		task.FinishedAt = fromMillis(finished)
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task runs: %w", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		run      RunRecord
		tasks    string
		errorStr sql.NullString
		started  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&run.ID, &tasks, &run.Flow, &run.Steps, &run.Status, &errorStr, &started, &finished); err != nil {
		return nil, err
	}
	if tasks != "" {
		run.Tasks = strings.Split(tasks, ",")
	}
	run.Error = errorStr.String
	run.StartedAt = time.UnixMilli(started)
	run.FinishedAt = fromMillis(finished)
	return &run, nil
}
