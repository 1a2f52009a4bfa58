// Package merge integrates a completed level: worker branches are merged
// into the target branch, then the quality gate pipeline decides whether
// the merged result stands.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/events"
	"github.com/swarm-dev/swarm/internal/gates"
	"github.com/swarm-dev/swarm/internal/logging"
	"github.com/swarm-dev/swarm/internal/worktree"
)

// Integrator merges one worker branch into the target branch.
// Implemented by worktree.Manager.
type Integrator interface {
	Merge(info *worktree.Info) (*worktree.Result, error)
}

// GateRunner executes the quality gate pipeline.
// Implemented by gates.Runner.
type GateRunner interface {
	RunAll(ctx context.Context, gates []config.GateConfig) []gates.Result
}

// ConflictError reports a branch that still conflicted after every retry.
type ConflictError struct {
	Branch string
	Files  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("branch %s conflicts in %s", e.Branch, strings.Join(e.Files, ", "))
}

// Verdict is the integration outcome for one level. Complete means every
// branch merged cleanly and every required gate passed.
type Verdict struct {
	Level        int
	Complete     bool
	Merged       []string            // Branches integrated, in merge order
	Conflicts    map[string][]string // Branch to conflicting files, after retries
	GateResults  []gates.Result
	BlockingGate string // First required gate that did not pass
	BlockedTasks []string
	Detail       string // Operator-facing summary of why the level failed
}

// Coordinator drives level integration.
type Coordinator struct {
	integrator Integrator
	gateRunner GateRunner
	cfg        config.MergeConfig
	gateCfg    []config.GateConfig
	strict     bool
	bus        *events.Bus
	log        *logging.Logger
}

// NewCoordinator creates a merge coordinator. strict controls whether a
// level containing blocked tasks fails outright or integrates the work
// that did complete.
func NewCoordinator(integrator Integrator, gateRunner GateRunner, cfg config.MergeConfig, gateCfg []config.GateConfig, strict bool, bus *events.Bus, log *logging.Logger) *Coordinator {
	return &Coordinator{
		integrator: integrator,
		gateRunner: gateRunner,
		cfg:        cfg,
		gateCfg:    gateCfg,
		strict:     strict,
		bus:        bus,
		log:        log,
	}
}

// IntegrateLevel merges every worker branch for the level and runs the
// gates in one call.
func (c *Coordinator) IntegrateLevel(ctx context.Context, level int, infos []*worktree.Info, blockedTasks []string) Verdict {
	verdict, merged := c.MergeLevel(ctx, level, infos, blockedTasks)
	if !merged {
		return verdict
	}
	return c.GateLevel(ctx, verdict)
}

// MergeLevel merges every worker branch for the level. Branches are merged
// one at a time; a branch that conflicts is retried a bounded number of
// times because sibling merges landing first can change the picture. A
// persistent conflict fails the level and stops further merging. The
// returned verdict is final when merged is false: integration failed or
// was refused and the gates must not run.
func (c *Coordinator) MergeLevel(ctx context.Context, level int, infos []*worktree.Info, blockedTasks []string) (verdict Verdict, merged bool) {
	verdict = Verdict{
		Level:        level,
		Conflicts:    make(map[string][]string),
		BlockedTasks: blockedTasks,
	}

	c.publish(events.TypeMergeStarted, level, "", map[string]any{"branches": len(infos)})

	if c.strict && len(blockedTasks) > 0 {
		verdict.Detail = fmt.Sprintf("level has %d blocked task(s) and strict levels are enabled", len(blockedTasks))
		c.log.Warn("level integration refused", "level", level, "blocked_tasks", blockedTasks)
		return verdict, false
	}
	if len(blockedTasks) > 0 {
		c.log.Warn("integrating level with blocked tasks", "level", level, "blocked_tasks", blockedTasks)
	}

	for _, info := range infos {
		if err := c.mergeBranch(ctx, level, info); err != nil {
			var conflictErr *ConflictError
			if errors.As(err, &conflictErr) {
				verdict.Conflicts[conflictErr.Branch] = conflictErr.Files
				verdict.Detail = conflictErr.Error()
			} else {
				verdict.Detail = err.Error()
			}
			c.log.Error("level integration failed", "level", level, "branch", info.Branch, "error", err)
			return verdict, false
		}
		verdict.Merged = append(verdict.Merged, info.Branch)
	}

	c.publish(events.TypeMergeComplete, level, "", map[string]any{"merged": verdict.Merged})
	return verdict, true
}

// GateLevel runs the gate pipeline over a merged level and settles the
// verdict.
func (c *Coordinator) GateLevel(ctx context.Context, verdict Verdict) Verdict {
	verdict.GateResults = c.gateRunner.RunAll(ctx, c.gateCfg)
	for _, result := range verdict.GateResults {
		c.publish(events.TypeGateResult, verdict.Level, "", map[string]any{
			"gate":     result.Gate,
			"status":   string(result.Status),
			"required": result.Required,
		})
	}

	if blocking, found := gates.FirstBlocking(verdict.GateResults); found {
		verdict.BlockingGate = blocking.Gate
		verdict.Detail = fmt.Sprintf("required gate %s: %s", blocking.Gate, blocking.Status)
		return verdict
	}

	verdict.Complete = true
	return verdict
}

// mergeBranch merges one branch, retrying conflicts with exponential
// backoff up to the configured attempt ceiling.
func (c *Coordinator) mergeBranch(ctx context.Context, level int, info *worktree.Info) error {
	attempt := 0
	operation := func() error {
		attempt++
		result, err := c.integrator.Merge(info)
		if err != nil {
			// Infrastructure failure, not a conflict. No point retrying.
			return backoff.Permanent(err)
		}
		if !result.Merged {
			if attempt <= c.cfg.RetryAttempts {
				c.publish(events.TypeMergeRetry, level, "", map[string]any{
					"branch":  info.Branch,
					"attempt": attempt,
					"files":   result.ConflictFiles,
				})
			}
			return &ConflictError{Branch: info.Branch, Files: result.ConflictFiles}
		}
		return nil
	}

	retries := c.cfg.RetryAttempts
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newConflictBackoff(), uint64(retries)), ctx)
	return backoff.Retry(operation, policy)
}

// newConflictBackoff spaces out conflict retries. Short intervals suffice;
// the retry only helps when a sibling merge lands in between.
func newConflictBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (c *Coordinator) publish(eventType string, level int, message string, data map[string]any) {
	c.bus.Publish(events.TopicLevel, events.Event{
		Type:    eventType,
		Message: message,
		Data:    data,
	}.ForLevel(level))
}
