package events

import (
	"time"
)

// Event type constants, one per externally observable orchestrator action.
const (
	TypeRunStarted         = "run_started"
	TypeRunComplete        = "run_complete"
	TypeRunFailed          = "run_failed"
	TypeLevelStarted       = "level_started"
	TypeLevelComplete      = "level_complete"
	TypeLevelFailed        = "level_failed"
	TypeTaskClaimed        = "task_claimed"
	TypeTaskStarted        = "task_started"
	TypeTaskComplete       = "task_complete"
	TypeTaskRetryScheduled = "task_retry_scheduled"
	TypeTaskRetryReady     = "task_retry_ready"
	TypeTaskFailedFinal    = "task_failed_permanent"
	TypeTaskManualRetry    = "task_manual_retry"
	TypeWorkerStarted      = "worker_started"
	TypeWorkerStopped      = "worker_stopped"
	TypeWorkerStale        = "worker_stale"
	TypeMergeStarted       = "merge_started"
	TypeMergeRetry         = "merge_retry"
	TypeMergeComplete      = "merge_complete"
	TypeGateResult         = "gate_result"
	TypeRecoverableError   = "recoverable_error"
)

// Event is one audit-trail entry. Events are an observability output only:
// the scheduler never reads them back to make decisions.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	WorkerID  *int           `json:"worker_id,omitempty"`
	Level     *int           `json:"level,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ForWorker attaches a worker id to the event.
func (e Event) ForWorker(id int) Event {
	e.WorkerID = &id
	return e
}

// ForLevel attaches a level index to the event.
func (e Event) ForLevel(index int) Event {
	e.Level = &index
	return e
}
