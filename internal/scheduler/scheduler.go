// Package scheduler reconciles durable task, worker, and level records into
// dispatch decisions. Each tick reads one snapshot, applies staleness and
// retry policy, and launches work for the current level. The loop never
// blocks on workers; progress is observed on the next tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swarm-dev/swarm/internal/events"
	"github.com/swarm-dev/swarm/internal/launcher"
	"github.com/swarm-dev/swarm/internal/logging"
	"github.com/swarm-dev/swarm/internal/retry"
	"github.com/swarm-dev/swarm/internal/state"
	"github.com/swarm-dev/swarm/internal/taskgraph"
	"github.com/swarm-dev/swarm/internal/worktree"
)

// ErrNoClaimable is returned by WaitClaimable when the wait window elapses
// with no task entering the pending state.
var ErrNoClaimable = errors.New("no task became claimable within the wait window")

// WorkspaceProvider creates one isolated workspace per worker slot.
// Implemented by worktree.Manager.
type WorkspaceProvider interface {
	Create(feature string, workerID int) (*worktree.Info, error)
}

// Config carries the scheduler's tuning knobs.
type Config struct {
	MaxConcurrent int
	Staleness     time.Duration // No worker update within this window means death
	SpecDir       string
	StatePath     string
	Clock         func() time.Time // Defaults to time.Now; injected in tests
}

// slot is one worker seat: a workspace provisioned once, and whatever live
// handle currently occupies it. Slots are reused across tasks so a worker
// keeps its workspace between assignments.
type slot struct {
	id       int
	worktree *worktree.Info
	handle   *launcher.Handle
}

// TickResult summarizes one reconciliation pass over a level.
type TickResult struct {
	Snapshot   *state.Snapshot
	Dispatched int
	Resolvable bool     // Every task in the level is complete or blocked
	Blocked    []string // Blocked task ids in the level, for the merge verdict
}

// Scheduler drives the task state machine for one run.
type Scheduler struct {
	graph      *taskgraph.Graph
	store      state.Store
	launcher   launcher.Launcher
	workspaces WorkspaceProvider
	retries    *retry.Controller
	bus        *events.Bus
	log        *logging.Logger
	cfg        Config

	slots map[int]*slot
}

// New creates a scheduler.
func New(graph *taskgraph.Graph, store state.Store, l launcher.Launcher, workspaces WorkspaceProvider, retries *retry.Controller, bus *events.Bus, log *logging.Logger, cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Scheduler{
		graph:      graph,
		store:      store,
		launcher:   l,
		workspaces: workspaces,
		retries:    retries,
		bus:        bus,
		log:        log,
		cfg:        cfg,
		slots:      make(map[int]*slot),
	}
}

// Tick runs one reconciliation pass for the given level: sweep stale
// workers, requeue elapsed retries, clear stranded assignments, observe
// worker progress, then dispatch pending tasks while under the concurrency
// ceiling. Mutations are applied to the snapshot copy as they are written
// so every step sees the tick's own decisions.
func (s *Scheduler) Tick(ctx context.Context, level int) (*TickResult, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading state snapshot: %w", err)
	}
	now := s.cfg.Clock()

	if err := s.sweepStale(ctx, snap, now); err != nil {
		return nil, err
	}
	if err := s.requeueElapsed(ctx, snap, now); err != nil {
		return nil, err
	}
	if err := s.reassignStranded(ctx, snap, now); err != nil {
		return nil, err
	}
	if err := s.observeProgress(ctx, snap); err != nil {
		return nil, err
	}

	dispatched, err := s.dispatch(ctx, snap, level)
	if err != nil {
		return nil, err
	}

	result := &TickResult{Snapshot: snap, Dispatched: dispatched}
	result.Resolvable, result.Blocked = s.resolvable(snap, level)
	return result, nil
}

// sweepStale declares workers dead when their record stops updating, fails
// their in-flight task, and frees the slot for relaunch.
func (s *Scheduler) sweepStale(ctx context.Context, snap *state.Snapshot, now time.Time) error {
	for id, worker := range snap.Workers {
		if worker.Status != state.WorkerWorking && worker.Status != state.WorkerStarting {
			continue
		}
		if !worker.Stale(now, s.cfg.Staleness) {
			continue
		}

		s.log.Warn("worker went stale", "worker_id", id, "last_update", worker.UpdatedAt, "task_id", worker.TaskID)
		s.publishWorker(events.TypeWorkerStale, id, worker.TaskID)

		worker.Status = state.WorkerCrashed
		if err := s.store.PutWorker(ctx, worker); err != nil {
			return fmt.Errorf("recording staleness verdict for worker %d: %w", id, err)
		}
		snap.Workers[id] = worker

		if sl, ok := s.slots[id]; ok && sl.handle != nil {
			_ = s.launcher.Stop(ctx, sl.handle, false)
			sl.handle = nil
		}

		for _, task := range snap.Tasks {
			if task.WorkerID != id || (task.Status != state.TaskClaimed && task.Status != state.TaskRunning) {
				continue
			}
			if err := s.recordFailure(ctx, snap, task, "worker went stale", now); err != nil {
				return err
			}
		}
	}
	return nil
}

// requeueElapsed moves waiting_retry tasks whose backoff has elapsed back
// to pending.
func (s *Scheduler) requeueElapsed(ctx context.Context, snap *state.Snapshot, now time.Time) error {
	for id, task := range snap.Tasks {
		if task.Status != state.TaskWaitingRetry || task.NextRetryAt.After(now) {
			continue
		}

		task.Status = state.TaskPending
		task.NextRetryAt = time.Time{}
		task.WorkerID = state.NoWorker
		if err := s.store.PutTask(ctx, task); err != nil {
			return fmt.Errorf("requeueing task %s: %w", id, err)
		}
		snap.Tasks[id] = task
		s.publishTask(events.TypeTaskRetryReady, task)
	}
	return nil
}

// reassignStranded clears assignments pointing at crashed or stopped
// workers so the task is dispatchable again. A missing worker row is not
// death: a freshly launched worker has not written its first record yet,
// and relaunching over it would orphan a live process in the same
// worktree. Only the claim aging past the staleness window declares a
// never-reporting worker dead.
func (s *Scheduler) reassignStranded(ctx context.Context, snap *state.Snapshot, now time.Time) error {
	for id, task := range snap.Tasks {
		if !task.Assigned() || (task.Status != state.TaskPending && task.Status != state.TaskClaimed) {
			continue
		}
		worker, exists := snap.Workers[task.WorkerID]
		if exists && worker.Status != state.WorkerCrashed && worker.Status != state.WorkerStopped {
			continue
		}

		if !exists && task.Status == state.TaskClaimed {
			// The claim time stands in for the missing record's timestamp.
			if now.Sub(task.UpdatedAt) <= s.cfg.Staleness {
				continue
			}
			s.log.Warn("worker never reported", "worker_id", task.WorkerID, "task_id", id)
			s.publishWorker(events.TypeWorkerStale, task.WorkerID, id)
			if sl, ok := s.slots[task.WorkerID]; ok && sl.handle != nil {
				_ = s.launcher.Stop(ctx, sl.handle, false)
				sl.handle = nil
			}
			if err := s.recordFailure(ctx, snap, task, "worker never reported", now); err != nil {
				return err
			}
			continue
		}

		task.WorkerID = state.NoWorker
		task.Status = state.TaskPending
		if err := s.store.PutTask(ctx, task); err != nil {
			return fmt.Errorf("clearing stranded assignment for task %s: %w", id, err)
		}
		snap.Tasks[id] = task
	}
	return nil
}

// observeProgress advances claimed and running tasks from their worker's
// record. A worker reports by writing its own row: working with the task id
// while busy, then idle with last_task_id naming what it finished and
// last_error carrying the outcome. A claimed task whose worker finished
// between ticks jumps straight to its terminal state.
func (s *Scheduler) observeProgress(ctx context.Context, snap *state.Snapshot) error {
	now := s.cfg.Clock()
	for id, task := range snap.Tasks {
		if !task.Assigned() || (task.Status != state.TaskClaimed && task.Status != state.TaskRunning) {
			continue
		}
		worker, exists := snap.Workers[task.WorkerID]
		if !exists {
			continue
		}

		// Only worker writes newer than the task's claim are outcomes: a
		// leftover idle record from this worker's previous assignment of
		// the same task must not be read as a fresh result.
		finished := worker.Status == state.WorkerIdle && worker.LastTaskID == id &&
			worker.UpdatedAt.After(task.UpdatedAt)

		switch {
		case finished && worker.LastError == "":
			task.Status = state.TaskComplete
			task.WorkerID = state.NoWorker
			if err := s.store.PutTask(ctx, task); err != nil {
				return fmt.Errorf("marking task %s complete: %w", id, err)
			}
			snap.Tasks[id] = task
			s.publishTask(events.TypeTaskComplete, task)

		case finished:
			if err := s.recordFailure(ctx, snap, task, worker.LastError, now); err != nil {
				return err
			}

		case task.Status == state.TaskClaimed && worker.Status == state.WorkerWorking && worker.TaskID == id:
			task.Status = state.TaskRunning
			if err := s.store.PutTask(ctx, task); err != nil {
				return fmt.Errorf("marking task %s running: %w", id, err)
			}
			snap.Tasks[id] = task
			s.publishTask(events.TypeTaskStarted, task)
		}
	}
	return nil
}

// dispatch launches pending tasks of the level, in graph declaration order,
// while claimed+running stays under the concurrency ceiling.
func (s *Scheduler) dispatch(ctx context.Context, snap *state.Snapshot, level int) (int, error) {
	tasks, err := s.graph.LevelTasks(level)
	if err != nil {
		return 0, err
	}

	busy := 0
	for _, task := range snap.Tasks {
		if task.Status == state.TaskClaimed || task.Status == state.TaskRunning {
			busy++
		}
	}

	dispatched := 0
	for _, task := range tasks {
		if busy >= s.cfg.MaxConcurrent {
			break
		}
		rec, ok := snap.Tasks[task.ID]
		if !ok || rec.Status != state.TaskPending {
			continue
		}

		sl, err := s.acquireSlot(snap)
		if err != nil {
			return dispatched, err
		}
		if sl == nil {
			break // every slot occupied
		}

		if err := s.launch(ctx, snap, sl, rec); err != nil {
			return dispatched, err
		}
		if snap.Tasks[task.ID].Status == state.TaskClaimed {
			busy++
			dispatched++
		}
	}
	return dispatched, nil
}

// acquireSlot returns a free provisioned slot, provisioning a new one while
// the fleet is under the ceiling. Returns nil when every slot is occupied.
// Existing slots are preferred so a worker keeps its workspace.
func (s *Scheduler) acquireSlot(snap *state.Snapshot) (*slot, error) {
	occupied := make(map[int]bool)
	for _, task := range snap.Tasks {
		if task.Assigned() && (task.Status == state.TaskClaimed || task.Status == state.TaskRunning) {
			occupied[task.WorkerID] = true
		}
	}

	for id := 1; id <= len(s.slots); id++ {
		if sl, ok := s.slots[id]; ok && !occupied[id] {
			return sl, nil
		}
	}

	if len(s.slots) >= s.cfg.MaxConcurrent {
		return nil, nil
	}

	id := len(s.slots) + 1
	info, err := s.workspaces.Create(s.graph.Feature(), id)
	if err != nil {
		return nil, fmt.Errorf("provisioning workspace for worker %d: %w", id, err)
	}
	sl := &slot{id: id, worktree: info}
	s.slots[id] = sl
	return sl, nil
}

// launch starts a worker for the task. A launch failure is routed through
// the retry controller exactly like a task failure.
func (s *Scheduler) launch(ctx context.Context, snap *state.Snapshot, sl *slot, rec state.TaskRecord) error {
	// A crashed occupant may still hold the slot's handle.
	if sl.handle != nil && s.launcher.HealthCheck(sl.handle) == launcher.HealthDead {
		sl.handle = nil
	}

	spec := launcher.StartSpec{
		WorkerID:     sl.id,
		Feature:      s.graph.Feature(),
		TaskID:       rec.ID,
		WorktreePath: sl.worktree.Path,
		Branch:       sl.worktree.Branch,
		SpecDir:      s.cfg.SpecDir,
		StatePath:    s.cfg.StatePath,
	}

	handle, err := s.launcher.Start(ctx, spec)
	if err != nil {
		s.log.Warn("worker launch failed", "worker_id", sl.id, "task_id", rec.ID, "error", err)
		s.bus.Publish(events.TopicWorker, events.Event{
			Type:    events.TypeRecoverableError,
			TaskID:  rec.ID,
			Message: err.Error(),
		}.ForWorker(sl.id).ForLevel(rec.Level))
		return s.recordFailure(ctx, snap, rec, err.Error(), s.cfg.Clock())
	}
	sl.handle = handle

	rec.Status = state.TaskClaimed
	rec.WorkerID = sl.id
	if err := s.store.PutTask(ctx, rec); err != nil {
		return fmt.Errorf("claiming task %s: %w", rec.ID, err)
	}
	snap.Tasks[rec.ID] = rec

	s.publishTask(events.TypeTaskClaimed, rec)
	s.publishWorker(events.TypeWorkerStarted, sl.id, rec.ID)
	return nil
}

// recordFailure bumps the attempt count and asks the retry controller for a
// verdict: schedule a backoff retry, or block the task permanently.
func (s *Scheduler) recordFailure(ctx context.Context, snap *state.Snapshot, rec state.TaskRecord, reason string, now time.Time) error {
	rec.Attempts++
	rec.Error = reason
	rec.WorkerID = state.NoWorker

	decision := s.retries.Decide(rec.Attempts)
	if decision.Retry {
		rec.Status = state.TaskWaitingRetry
		rec.NextRetryAt = now.Add(decision.Delay)
		if err := s.store.PutTask(ctx, rec); err != nil {
			return fmt.Errorf("scheduling retry for task %s: %w", rec.ID, err)
		}
		snap.Tasks[rec.ID] = rec
		s.publishTaskData(events.TypeTaskRetryScheduled, rec, map[string]any{
			"attempt":       rec.Attempts,
			"next_retry_at": rec.NextRetryAt,
			"reason":        reason,
		})
		return nil
	}

	rec.Status = state.TaskBlocked
	rec.NextRetryAt = time.Time{}
	if err := s.store.PutTask(ctx, rec); err != nil {
		return fmt.Errorf("blocking task %s: %w", rec.ID, err)
	}
	snap.Tasks[rec.ID] = rec
	s.publishTaskData(events.TypeTaskFailedFinal, rec, map[string]any{
		"attempts": rec.Attempts,
		"reason":   reason,
	})
	s.log.Error("task blocked after exhausting retries", "task_id", rec.ID, "attempts", rec.Attempts, "reason", reason)
	return nil
}

// resolvable reports whether every task in the level is terminal, along
// with the blocked task ids.
func (s *Scheduler) resolvable(snap *state.Snapshot, level int) (bool, []string) {
	tasks, err := s.graph.LevelTasks(level)
	if err != nil {
		return false, nil
	}

	var blocked []string
	for _, task := range tasks {
		rec, ok := snap.Tasks[task.ID]
		if !ok || !rec.Terminal() {
			return false, nil
		}
		if rec.Status == state.TaskBlocked {
			blocked = append(blocked, task.ID)
		}
	}
	return true, blocked
}

// WaitClaimable blocks until some task is pending, up to max. Used by the
// worker-side claim protocol; the orchestrator's own loop never calls it.
func (s *Scheduler) WaitClaimable(ctx context.Context, max time.Duration) (string, error) {
	deadline := s.cfg.Clock().Add(max)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		snap, err := s.store.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		for _, level := range s.graph.Levels() {
			for _, task := range level.Tasks {
				if rec, ok := snap.Tasks[task.ID]; ok && rec.Status == state.TaskPending {
					return task.ID, nil
				}
			}
		}

		if !s.cfg.Clock().Before(deadline) {
			return "", ErrNoClaimable
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// StopAll terminates every live worker in parallel. Graceful stop lets each
// worker finish within the launcher's grace window; forced stop kills
// immediately.
func (s *Scheduler) StopAll(ctx context.Context, graceful bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sl := range s.slots {
		if sl.handle == nil {
			continue
		}
		sl := sl
		g.Go(func() error {
			if graceful {
				stopping := state.WorkerRecord{ID: sl.id, Status: state.WorkerStopping}
				if putErr := s.store.PutWorker(gctx, stopping); putErr != nil {
					s.log.Warn("failed to record worker stopping", "worker_id", sl.id, "error", putErr)
				}
			}
			err := s.launcher.Stop(gctx, sl.handle, graceful)
			if err == nil {
				s.publishWorker(events.TypeWorkerStopped, sl.id, "")
				worker := state.WorkerRecord{ID: sl.id, Status: state.WorkerStopped}
				if putErr := s.store.PutWorker(gctx, worker); putErr != nil {
					s.log.Warn("failed to record worker stop", "worker_id", sl.id, "error", putErr)
				}
			}
			sl.handle = nil
			return err
		})
	}
	return g.Wait()
}

// Worktrees returns the workspace of every provisioned slot, in slot order.
// The merge coordinator integrates these branches when a level resolves.
func (s *Scheduler) Worktrees() []*worktree.Info {
	infos := make([]*worktree.Info, 0, len(s.slots))
	for id := 1; id <= len(s.slots); id++ {
		if sl, ok := s.slots[id]; ok {
			infos = append(infos, sl.worktree)
		}
	}
	return infos
}

func (s *Scheduler) publishTask(eventType string, rec state.TaskRecord) {
	s.publishTaskData(eventType, rec, nil)
}

func (s *Scheduler) publishTaskData(eventType string, rec state.TaskRecord, data map[string]any) {
	event := events.Event{Type: eventType, TaskID: rec.ID, Data: data}.ForLevel(rec.Level)
	if rec.Assigned() {
		event = event.ForWorker(rec.WorkerID)
	}
	s.bus.Publish(events.TopicTask, event)
}

func (s *Scheduler) publishWorker(eventType string, workerID int, taskID string) {
	s.bus.Publish(events.TopicWorker, events.Event{Type: eventType, TaskID: taskID}.ForWorker(workerID))
}
