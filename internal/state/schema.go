package state

import (
	"context"
	"sync"
	"time"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		level INTEGER NOT NULL,
		status TEXT NOT NULL,
		worker_id INTEGER NOT NULL DEFAULT -1,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_level ON tasks(level);

	CREATE TABLE IF NOT EXISTS workers (
		id INTEGER PRIMARY KEY,
		status TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		last_task_id TEXT NOT NULL DEFAULT '',
		worktree_path TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS levels (
		idx INTEGER PRIMARY KEY,
		status TEXT NOT NULL,
		blocking_gate TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS control (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		desired TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// nowFunc supplies record timestamps; swapped out in tests.
type nowFunc func() time.Time

// monotonicNow returns a clock that never moves backwards, so repeated writes
// to the same key always carry increasing timestamps even if the wall clock
// steps back.
func monotonicNow() nowFunc {
	var mu sync.Mutex
	var last time.Time
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := time.Now().UTC()
		if !t.After(last) {
			t = last.Add(time.Nanosecond)
		}
		last = t
		return t
	}
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
