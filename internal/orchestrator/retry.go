package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/swarm-dev/swarm/internal/events"
	"github.com/swarm-dev/swarm/internal/state"
)

// RetryTasks resets blocked and failed tasks so the next run attempts them
// again: status back to pending, attempt counter cleared. A level that
// failed only because of those tasks (no gate named as blocking) is
// reopened too. Each reset lands in the audit trail as a task_manual_retry
// event. Returns the ids of the tasks reset.
//
// This runs from the CLI against the state database; no orchestrator needs
// to be live.
func RetryTasks(ctx context.Context, store state.Store, bus *events.Bus) ([]string, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading state snapshot: %w", err)
	}

	var reset []string
	for id, task := range snap.Tasks {
		if task.Status != state.TaskBlocked && task.Status != state.TaskFailed {
			continue
		}
		task.Status = state.TaskPending
		task.Attempts = 0
		task.Error = ""
		task.WorkerID = state.NoWorker
		task.NextRetryAt = time.Time{}
		if err := store.PutTask(ctx, task); err != nil {
			return reset, fmt.Errorf("resetting task %s: %w", id, err)
		}
		bus.Publish(events.TopicTask, events.Event{
			Type:   events.TypeTaskManualRetry,
			TaskID: id,
		}.ForLevel(task.Level))
		reset = append(reset, id)
	}

	for index, level := range snap.Levels {
		if level.Status != state.LevelFailed || level.BlockingGate != "" {
			continue
		}
		level.Status = state.LevelPending
		level.Detail = ""
		if err := store.PutLevel(ctx, level); err != nil {
			return reset, fmt.Errorf("reopening level %d: %w", index, err)
		}
	}

	return reset, nil
}
