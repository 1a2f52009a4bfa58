package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swarm-dev/swarm/internal/taskgraph"
	_ "modernc.org/sqlite"
)

// Store is the durable state record interface shared by the orchestrator and
// workers. Writes are last-writer-wins keyed by worker, task, or level id with
// a monotonic update timestamp; Snapshot returns the current view. Consistency
// comes from single-writer-per-key discipline, not from locking: workers write
// only their own worker row, the orchestrator writes only task and level rows.
type Store interface {
	// InitGraph seeds task and level rows from a validated graph.
	// Idempotent: existing rows keep their status so an interrupted run resumes.
	InitGraph(ctx context.Context, graph *taskgraph.Graph) error

	PutTask(ctx context.Context, rec TaskRecord) error
	PutWorker(ctx context.Context, rec WorkerRecord) error
	PutLevel(ctx context.Context, rec LevelRecord) error

	Snapshot(ctx context.Context) (*Snapshot, error)

	// SetDesired records the requested run state (running, stop, force_stop).
	SetDesired(ctx context.Context, desired string) error

	Close() error
}

// SQLiteStore implements Store using SQLite. WAL mode and a busy timeout let
// worker processes write their own rows while the orchestrator reads.
type SQLiteStore struct {
	db  *sql.DB
	now nowFunc
}

// Open creates a SQLite-backed store at the given path, creating parent
// directories as needed.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// OpenMemory creates an in-memory store for testing.
// Uses a shared cache so multiple connections see the same database.
func OpenMemory(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared")
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Two connections: one for primary queries, one for subqueries.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db, now: monotonicNow()}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
