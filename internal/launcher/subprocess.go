package launcher

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/sony/gobreaker"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/logging"
)

// SubprocessLauncher runs workers as local subprocesses, each in its own
// process group with a dedicated port block.
type SubprocessLauncher struct {
	command   string
	grace     time.Duration
	limits    Limits
	ports     *PortAllocator
	pm        *ProcessManager
	breaker   *gobreaker.CircuitBreaker
	log       *logging.Logger
}

// NewSubprocessLauncher creates a subprocess launcher.
func NewSubprocessLauncher(cfg config.LauncherConfig, ports config.PortsConfig, res config.ResourcesConfig, log *logging.Logger) *SubprocessLauncher {
	grace := time.Duration(cfg.GraceSeconds) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &SubprocessLauncher{
		command: cfg.Command,
		grace:   grace,
		limits: Limits{
			CPUs:     res.CPUs,
			MemoryMB: res.MemoryMB,
			DiskGB:   res.DiskGB,
			Enforced: false,
		},
		ports:   NewPortAllocator(ports.RangeStart, ports.RangeEnd, ports.PerWorker),
		pm:      NewProcessManager(),
		breaker: newStartBreaker("subprocess-launch", log),
		log:     log,
	}
}

// Start launches a worker subprocess. The call returns once the process is
// running; completion is observed later through the worker's state record.
func (l *SubprocessLauncher) Start(ctx context.Context, spec StartSpec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{WorkerID: spec.WorkerID, Cause: err}
	}

	block, err := l.ports.Acquire()
	if err != nil {
		return nil, &LaunchError{WorkerID: spec.WorkerID, Cause: err}
	}

	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.spawn(spec, block)
	})
	if err != nil {
		l.ports.Release(block)
		return nil, &LaunchError{WorkerID: spec.WorkerID, Cause: err}
	}

	handle := result.(*Handle)
	l.log.WithWorker(spec.WorkerID).Info("worker subprocess started",
		"pid", handle.PID, "ports", fmt.Sprintf("%d-%d", block.Start, block.End()))
	return handle, nil
}

func (l *SubprocessLauncher) spawn(spec StartSpec, block PortBlock) (*Handle, error) {
	cmd := newWorkerCommand(l.command)
	cmd.Dir = spec.WorktreePath
	cmd.Env = append(os.Environ(), workerEnv(spec, block)...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker command %q: %w", l.command, err)
	}

	l.pm.Track(cmd)

	handle := &Handle{
		WorkerID:  spec.WorkerID,
		PID:       cmd.Process.Pid,
		Ports:     block,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	// Reap in the background so the process never zombies. Exit status is
	// deliberately ignored here; task outcome comes from the state store.
	go func() {
		_ = cmd.Wait()
		l.pm.Untrack(cmd)
		close(handle.done)
	}()

	return handle, nil
}

// workerEnv builds the environment contract handed to every worker.
func workerEnv(spec StartSpec, block PortBlock) []string {
	return []string{
		"SWARM_WORKER_ID=" + strconv.Itoa(spec.WorkerID),
		"SWARM_FEATURE=" + spec.Feature,
		"SWARM_TASK_ID=" + spec.TaskID,
		"SWARM_WORKTREE=" + spec.WorktreePath,
		"SWARM_BRANCH=" + spec.Branch,
		"SWARM_SPEC_DIR=" + spec.SpecDir,
		"SWARM_STATE_DB=" + spec.StatePath,
		"SWARM_PORT_BASE=" + strconv.Itoa(block.Start),
		"SWARM_PORT_COUNT=" + strconv.Itoa(block.Count),
	}
}

// HealthCheck reports whether the worker process is still running.
func (l *SubprocessLauncher) HealthCheck(handle *Handle) Health {
	if handle == nil || handle.done == nil {
		return HealthDead
	}
	select {
	case <-handle.done:
		return HealthDead
	default:
		return HealthAlive
	}
}

// Stop terminates the worker. Graceful stop signals SIGTERM to the process
// group and waits the grace period before escalating to SIGKILL.
func (l *SubprocessLauncher) Stop(ctx context.Context, handle *Handle, graceful bool) error {
	if handle == nil {
		return nil
	}
	defer l.ports.Release(handle.Ports)

	if l.HealthCheck(handle) == HealthDead {
		return nil
	}

	if graceful {
		if err := signalProcessGroup(handle.PID, syscall.SIGTERM); err != nil {
			return err
		}
		grace := l.grace
		if deadline, ok := ctx.Deadline(); ok {
			if until := time.Until(deadline); until < grace {
				grace = until
			}
		}
		if awaitExit(handle, grace) {
			return nil
		}
		l.log.WithWorker(handle.WorkerID).Warn("grace period expired, forcing termination", "pid", handle.PID)
	}

	if err := signalProcessGroup(handle.PID, syscall.SIGKILL); err != nil {
		return err
	}
	awaitExit(handle, 5*time.Second)
	return nil
}

// ResourceLimits reports the configured limits. For subprocesses these are
// monitoring hints only, never enforced.
func (l *SubprocessLauncher) ResourceLimits(handle *Handle) Limits {
	return l.limits
}

// KillAll force-terminates every live worker subprocess. Used on shutdown.
func (l *SubprocessLauncher) KillAll() error {
	return l.pm.KillAll()
}
