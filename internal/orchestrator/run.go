// Package orchestrator composes the scheduler, merge coordinator, and state
// store into the per-run control loop: dispatch a level, wait for it to
// resolve, integrate it, and only then open the next level.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/events"
	"github.com/swarm-dev/swarm/internal/logging"
	"github.com/swarm-dev/swarm/internal/merge"
	"github.com/swarm-dev/swarm/internal/scheduler"
	"github.com/swarm-dev/swarm/internal/state"
	"github.com/swarm-dev/swarm/internal/taskgraph"
)

// Exit codes reported to the CLI.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitGateFailure = 2 // A required quality gate did not pass
)

// Report is the terminal outcome of one run.
type Report struct {
	Feature         string
	LevelsCompleted int
	Failed          bool
	Stopped         bool
	FailedLevel     int
	BlockingGate    string
	BlockedTasks    []string
	Detail          string
}

// ExitCode maps the report to the CLI contract.
func (r *Report) ExitCode() int {
	switch {
	case r.BlockingGate != "":
		return ExitGateFailure
	case r.Failed || r.Stopped:
		return ExitFailed
	default:
		return ExitOK
	}
}

// Run holds everything one orchestration run needs. It is constructed once
// per run and passed around explicitly; there is no ambient global state.
type Run struct {
	cfg    *config.Config
	graph  *taskgraph.Graph
	store  state.Store
	sched  *scheduler.Scheduler
	merger *merge.Coordinator
	bus    *events.Bus
	log    *logging.Logger
	poll   time.Duration
}

// NewRun assembles a run from its collaborators.
func NewRun(cfg *config.Config, graph *taskgraph.Graph, store state.Store, sched *scheduler.Scheduler, merger *merge.Coordinator, bus *events.Bus, log *logging.Logger) *Run {
	poll := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Run{
		cfg:    cfg,
		graph:  graph,
		store:  store,
		sched:  sched,
		merger: merger,
		bus:    bus,
		log:    log,
		poll:   poll,
	}
}

// Execute drives the run to completion. Levels gate strictly: level N+1
// tasks are never dispatched before level N's verdict is complete. A failed
// level halts the run; completed levels' merged work stays intact.
func (r *Run) Execute(ctx context.Context) (*Report, error) {
	report := &Report{Feature: r.graph.Feature()}

	if err := r.store.InitGraph(ctx, r.graph); err != nil {
		return report, fmt.Errorf("seeding state records: %w", err)
	}

	r.publishRun(events.TypeRunStarted, map[string]any{
		"feature": r.graph.Feature(),
		"levels":  r.graph.LevelCount(),
		"tasks":   r.graph.TaskCount(),
	})
	r.log.Info("run started", "levels", r.graph.LevelCount(), "tasks", r.graph.TaskCount())

	for level := 0; level < r.graph.LevelCount(); level++ {
		verdict, stopped, err := r.runLevel(ctx, level)
		if err != nil {
			report.Failed = true
			report.FailedLevel = level
			report.Detail = err.Error()
			r.publishRun(events.TypeRunFailed, map[string]any{"level": level, "error": err.Error()})
			return report, err
		}
		if stopped {
			report.Stopped = true
			report.Detail = "run stopped by operator"
			r.log.Info("run stopped", "level", level)
			return report, nil
		}
		if !verdict.Complete {
			report.Failed = true
			report.FailedLevel = level
			report.BlockingGate = verdict.BlockingGate
			report.BlockedTasks = verdict.BlockedTasks
			report.Detail = verdict.Detail
			r.publishRun(events.TypeRunFailed, map[string]any{
				"level":         level,
				"blocking_gate": verdict.BlockingGate,
				"detail":        verdict.Detail,
			})
			r.log.Error("run failed", "level", level, "detail", verdict.Detail)
			return report, nil
		}

		report.LevelsCompleted++
		report.BlockedTasks = append(report.BlockedTasks, verdict.BlockedTasks...)
	}

	r.publishRun(events.TypeRunComplete, map[string]any{"levels": report.LevelsCompleted})
	r.log.Info("run complete", "levels", report.LevelsCompleted)
	return report, nil
}

// runLevel dispatches one level until it resolves, then integrates it.
// Returns the merge verdict, whether the run was stopped, and any
// infrastructure error.
func (r *Run) runLevel(ctx context.Context, level int) (merge.Verdict, bool, error) {
	if err := r.setLevel(ctx, level, state.LevelRunning, "", ""); err != nil {
		return merge.Verdict{}, false, err
	}
	r.publishLevel(events.TypeLevelStarted, level)
	r.log.Info("level started", "level", level)

	var result *scheduler.TickResult
	for {
		var err error
		result, err = r.sched.Tick(ctx, level)
		if err != nil {
			return merge.Verdict{}, false, err
		}

		switch result.Snapshot.Desired {
		case state.DesiredStop:
			r.log.Info("graceful stop requested")
			if err := r.sched.StopAll(ctx, true); err != nil {
				r.log.Warn("graceful stop incomplete", "error", err)
			}
			return merge.Verdict{}, true, nil
		case state.DesiredForceStop:
			r.log.Info("forced stop requested")
			_ = r.sched.StopAll(ctx, false)
			return merge.Verdict{}, true, nil
		}

		if result.Resolvable {
			break
		}

		select {
		case <-ctx.Done():
			_ = r.sched.StopAll(context.Background(), false)
			return merge.Verdict{}, false, ctx.Err()
		case <-time.After(r.poll):
		}
	}

	if err := r.setLevel(ctx, level, state.LevelMerging, "", ""); err != nil {
		return merge.Verdict{}, false, err
	}

	verdict, merged := r.merger.MergeLevel(ctx, level, r.sched.Worktrees(), result.Blocked)
	if merged {
		if err := r.setLevel(ctx, level, state.LevelGated, "", ""); err != nil {
			return verdict, false, err
		}
		verdict = r.merger.GateLevel(ctx, verdict)
	}

	if !verdict.Complete {
		if err := r.setLevel(ctx, level, state.LevelFailed, verdict.BlockingGate, verdict.Detail); err != nil {
			return verdict, false, err
		}
		r.publishLevel(events.TypeLevelFailed, level)
		return verdict, false, nil
	}

	if err := r.setLevel(ctx, level, state.LevelComplete, "", ""); err != nil {
		return verdict, false, err
	}
	r.publishLevel(events.TypeLevelComplete, level)
	r.log.Info("level complete", "level", level, "merged", len(verdict.Merged), "blocked_tasks", len(verdict.BlockedTasks))
	return verdict, false, nil
}

func (r *Run) setLevel(ctx context.Context, index int, status, blockingGate, detail string) error {
	err := r.store.PutLevel(ctx, state.LevelRecord{
		Index:        index,
		Status:       status,
		BlockingGate: blockingGate,
		Detail:       detail,
	})
	if err != nil {
		return fmt.Errorf("recording level %d status %s: %w", index, status, err)
	}
	return nil
}

func (r *Run) publishRun(eventType string, data map[string]any) {
	r.bus.Publish(events.TopicRun, events.Event{Type: eventType, Data: data})
}

func (r *Run) publishLevel(eventType string, level int) {
	r.bus.Publish(events.TopicLevel, events.Event{Type: eventType}.ForLevel(level))
}
