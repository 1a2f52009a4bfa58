// Package launcher starts, health-checks, and stops worker instances.
// Two variants implement one contract: subprocess workers in their own
// process groups, and container workers driven through the docker CLI.
// Completion is never observed through the launch call; workers report
// progress through their state records.
package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/logging"
)

// Health is the result of a liveness probe against a worker handle.
type Health int

const (
	HealthDead Health = iota
	HealthAlive
)

// Limits describes the resource ceiling applied to one worker.
// Enforced for containers; informational for subprocesses.
type Limits struct {
	CPUs     float64
	MemoryMB int
	DiskGB   int
	Enforced bool
}

// StartSpec is everything a worker needs to begin work. The orchestrator
// hands these values over verbatim; the worker reads nothing else besides
// its task assignment in the state store.
type StartSpec struct {
	WorkerID     int
	Feature      string
	TaskID       string
	WorktreePath string
	Branch       string
	SpecDir      string
	StatePath    string
}

// Handle identifies one launched worker instance.
type Handle struct {
	WorkerID    int
	PID         int       // subprocess variant
	ContainerID string    // container variant
	Ports       PortBlock // subprocess variant
	StartedAt   time.Time

	cmd  *exec.Cmd     // subprocess bookkeeping
	done chan struct{} // closed once the process is reaped
}

// Launcher is the capability to run one worker instance.
// Start returns once the process or container is launched, not once work is
// complete. Stop with graceful=true signals the worker and waits a bounded
// grace period before forcing termination.
type Launcher interface {
	Start(ctx context.Context, spec StartSpec) (*Handle, error)
	HealthCheck(handle *Handle) Health
	Stop(ctx context.Context, handle *Handle, graceful bool) error
	ResourceLimits(handle *Handle) Limits
}

// LaunchError reports a failure to start a worker. The scheduler routes it
// through the retry controller exactly like a task failure.
type LaunchError struct {
	WorkerID int
	Cause    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch worker %d: %v", e.WorkerID, e.Cause)
}

func (e *LaunchError) Unwrap() error {
	return e.Cause
}

// New selects the concrete launcher once at startup. Mode "auto" picks the
// container variant when docker is usable, otherwise subprocess. Nothing
// downstream ever branches on the launcher type again.
func New(cfg config.LauncherConfig, ports config.PortsConfig, res config.ResourcesConfig, log *logging.Logger) (Launcher, error) {
	mode := cfg.Mode
	if mode == "auto" {
		if dockerAvailable() {
			mode = "container"
		} else {
			mode = "subprocess"
		}
		log.Info("launcher mode auto-detected", "mode", mode)
	}

	switch mode {
	case "subprocess":
		return NewSubprocessLauncher(cfg, ports, res, log), nil
	case "container":
		l := NewContainerLauncher(cfg, res, log)
		if err := l.EnsureNetwork(context.Background()); err != nil {
			return nil, fmt.Errorf("preparing container network: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown launcher mode %q", cfg.Mode)
	}
}

// dockerAvailable probes for a working docker daemon.
func dockerAvailable() bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	return exec.Command("docker", "info").Run() == nil
}

// newStartBreaker builds the circuit breaker guarding Start calls.
// Repeated launch failures (missing image, exhausted resources) trip the
// breaker so the scheduler fails fast instead of hammering the runtime.
func newStartBreaker(name string, log *logging.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("launch circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}
