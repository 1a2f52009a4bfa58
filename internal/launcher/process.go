package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// newWorkerCommand creates an exec.Cmd with process group isolation.
// Setpgid puts the worker in its own process group so the whole subprocess
// tree can be terminated together.
func newWorkerCommand(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	return cmd
}

// signalProcessGroup sends sig to the entire process group (negative PID),
// reaching children the worker spawned, not just the immediate process.
func signalProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return fmt.Errorf("failed to signal process group %d: %w", pid, err)
	}
	return nil
}

// awaitExit waits for the handle's reaper to observe process exit, up to the
// given grace period. Returns true if the process exited in time.
func awaitExit(handle *Handle, grace time.Duration) bool {
	if handle.done == nil {
		return true
	}
	select {
	case <-handle.done:
		return true
	case <-time.After(grace):
		return false
	}
}

// ProcessManager tracks running worker subprocesses so they can all be
// terminated on shutdown, preventing orphans when the orchestrator dies.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a subprocess after cmd.Start() succeeded.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess once it has been reaped.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates every tracked process group. Called during shutdown.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid := range pm.procs {
		if err := signalProcessGroup(pid, syscall.SIGKILL); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}

	return nil
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}

// runCommand executes a short-lived command and returns combined output,
// honoring context cancellation. Used for docker CLI calls.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %v failed: %w (output: %s)", name, args, err, string(output))
	}
	return string(output), nil
}
