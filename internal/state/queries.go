package state

import (
	"context"
	"fmt"

	"github.com/swarm-dev/swarm/internal/taskgraph"
)

// InitGraph seeds one task row per graph task and one level row per level.
// ON CONFLICT DO NOTHING keeps existing rows untouched so interrupted runs
// resume where they left off.
func (s *SQLiteStore) InitGraph(ctx context.Context, graph *taskgraph.Graph) error {
	now := formatTime(s.now())

	for _, level := range graph.Levels() {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO levels (idx, status, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(idx) DO NOTHING
		`, level.Index, LevelPending, now); err != nil {
			return fmt.Errorf("failed to seed level %d: %w", level.Index, err)
		}

		for _, task := range level.Tasks {
			if _, err := s.db.ExecContext(ctx, `
				INSERT INTO tasks (id, level, status, worker_id, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING
			`, task.ID, level.Index, TaskPending, NoWorker, now); err != nil {
				return fmt.Errorf("failed to seed task %s: %w", task.ID, err)
			}
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO control (id, desired, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET desired = excluded.desired, updated_at = excluded.updated_at
	`, DesiredRunning, now); err != nil {
		return fmt.Errorf("failed to reset control record: %w", err)
	}

	return nil
}

// PutTask upserts a task record, stamping it with the store clock.
func (s *SQLiteStore) PutTask(ctx context.Context, rec TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, level, status, worker_id, attempts, next_retry_at, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			level = excluded.level,
			status = excluded.status,
			worker_id = excluded.worker_id,
			attempts = excluded.attempts,
			next_retry_at = excluded.next_retry_at,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Level, rec.Status, rec.WorkerID, rec.Attempts, formatTime(rec.NextRetryAt), rec.Error, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", rec.ID, err)
	}
	return nil
}

// PutWorker upserts a worker record, stamping it with the store clock.
func (s *SQLiteStore) PutWorker(ctx context.Context, rec WorkerRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, status, task_id, last_task_id, worktree_path, branch, tasks_completed, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			task_id = excluded.task_id,
			last_task_id = excluded.last_task_id,
			worktree_path = excluded.worktree_path,
			branch = excluded.branch,
			tasks_completed = excluded.tasks_completed,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Status, rec.TaskID, rec.LastTaskID, rec.WorktreePath, rec.Branch, rec.TasksCompleted, rec.LastError, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to upsert worker %d: %w", rec.ID, err)
	}
	return nil
}

// PutLevel upserts a level record, stamping it with the store clock.
func (s *SQLiteStore) PutLevel(ctx context.Context, rec LevelRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO levels (idx, status, blocking_gate, detail, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			status = excluded.status,
			blocking_gate = excluded.blocking_gate,
			detail = excluded.detail,
			updated_at = excluded.updated_at
	`, rec.Index, rec.Status, rec.BlockingGate, rec.Detail, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to upsert level %d: %w", rec.Index, err)
	}
	return nil
}

// SetDesired records the requested run state.
func (s *SQLiteStore) SetDesired(ctx context.Context, desired string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO control (id, desired, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET desired = excluded.desired, updated_at = excluded.updated_at
	`, desired, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to set desired state: %w", err)
	}
	return nil
}

// Snapshot reads every record in one pass. The orchestrator calls this once
// per tick and makes all decisions from the returned view.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Tasks:   make(map[string]TaskRecord),
		Workers: make(map[int]WorkerRecord),
		Levels:  make(map[int]LevelRecord),
		Desired: DesiredRunning,
		TakenAt: s.now(),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, status, worker_id, attempts, next_retry_at, error, updated_at FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	for rows.Next() {
		var rec TaskRecord
		var nextRetry, updated string
		if err := rows.Scan(&rec.ID, &rec.Level, &rec.Status, &rec.WorkerID, &rec.Attempts, &nextRetry, &rec.Error, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		rec.NextRetryAt = parseTime(nextRetry)
		rec.UpdatedAt = parseTime(updated)
		snap.Tasks[rec.ID] = rec
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, status, task_id, last_task_id, worktree_path, branch, tasks_completed, last_error, updated_at FROM workers
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	for rows.Next() {
		var rec WorkerRecord
		var updated string
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.TaskID, &rec.LastTaskID, &rec.WorktreePath, &rec.Branch, &rec.TasksCompleted, &rec.LastError, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		rec.UpdatedAt = parseTime(updated)
		snap.Workers[rec.ID] = rec
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT idx, status, blocking_gate, detail, updated_at FROM levels
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	for rows.Next() {
		var rec LevelRecord
		var updated string
		if err := rows.Scan(&rec.Index, &rec.Status, &rec.BlockingGate, &rec.Detail, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		rec.UpdatedAt = parseTime(updated)
		snap.Levels[rec.Index] = rec
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	var desired string
	err = s.db.QueryRowContext(ctx, `SELECT desired FROM control WHERE id = 1`).Scan(&desired)
	if err == nil {
		snap.Desired = desired
	}

	return snap, nil
}

type rowsCloser interface {
	Close() error
	Err() error
}

func closeRows(rows rowsCloser) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return rows.Close()
}
