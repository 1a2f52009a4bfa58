package state

import (
	"time"
)

// Task statuses. A task is terminal when complete or blocked.
const (
	TaskPending      = "pending"
	TaskClaimed      = "claimed"
	TaskRunning      = "running"
	TaskWaitingRetry = "waiting_retry"
	TaskComplete     = "complete"
	TaskFailed       = "failed"
	TaskBlocked      = "blocked"
)

// Worker statuses.
const (
	WorkerIdle     = "idle"
	WorkerStarting = "starting"
	WorkerWorking  = "working"
	WorkerStopping = "stopping"
	WorkerStopped  = "stopped"
	WorkerCrashed  = "crashed"
)

// Level statuses.
const (
	LevelPending  = "pending"
	LevelRunning  = "running"
	LevelMerging  = "merging"
	LevelGated    = "gated"
	LevelComplete = "complete"
	LevelFailed   = "failed"
)

// Desired run states written by the stop command and read by the orchestrator
// on every tick. State records are the only channel between the two processes.
const (
	DesiredRunning   = "running"
	DesiredStop      = "stop"
	DesiredForceStop = "force_stop"
)

// NoWorker marks a task record with no assigned worker.
const NoWorker = -1

// TaskRecord is the orchestrator-owned durable state of one task.
// Only the scheduler writes these; workers report through their own
// WorkerRecord and never touch task rows.
type TaskRecord struct {
	ID          string
	Level       int
	Status      string
	WorkerID    int // NoWorker when unassigned
	Attempts    int
	NextRetryAt time.Time // zero unless status is waiting_retry
	Error       string
	UpdatedAt   time.Time
}

// WorkerRecord is the worker-owned durable state of one worker slot.
// Each worker writes only its own row. The orchestrator reads rows as
// progress reports and writes them in exactly one case: recording the
// staleness verdict (crashed) or a stop it forced, states a dead worker
// cannot write for itself.
type WorkerRecord struct {
	ID             int
	Status         string
	TaskID         string // current task, empty when idle
	LastTaskID     string // most recently finished task; LastError carries its outcome
	WorktreePath   string
	Branch         string
	TasksCompleted int
	LastError      string
	UpdatedAt      time.Time
}

// LevelRecord is the orchestrator-owned durable state of one level.
type LevelRecord struct {
	Index        int
	Status       string
	BlockingGate string // first required gate that did not pass, when failed
	Detail       string // diagnostic payload for the operator
	UpdatedAt    time.Time
}

// Snapshot is a point-in-time view of every record, taken once per
// reconciliation tick. All scheduling decisions derive from it.
type Snapshot struct {
	Tasks   map[string]TaskRecord
	Workers map[int]WorkerRecord
	Levels  map[int]LevelRecord
	Desired string
	TakenAt time.Time
}

// Assigned reports whether the task record has a worker assignment.
func (t TaskRecord) Assigned() bool {
	return t.WorkerID != NoWorker
}

// Terminal reports whether the task can no longer change state this run.
func (t TaskRecord) Terminal() bool {
	return t.Status == TaskComplete || t.Status == TaskBlocked
}

// Stale reports whether the worker record has not been updated within the
// given timeout, measured against now. Staleness is a liveness signal, not an
// error: a crashed worker simply stops writing.
func (w WorkerRecord) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.UpdatedAt) > timeout
}
