package launcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/logging"
)

// ContainerLauncher runs workers as docker containers with enforced resource
// limits. All docker interaction goes through the CLI; no daemon API client.
type ContainerLauncher struct {
	image   string
	network string
	grace   time.Duration
	limits  Limits
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger
}

// NewContainerLauncher creates a container launcher.
func NewContainerLauncher(cfg config.LauncherConfig, res config.ResourcesConfig, log *logging.Logger) *ContainerLauncher {
	grace := time.Duration(cfg.GraceSeconds) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}
	network := cfg.Network
	if network == "" {
		network = "swarm"
	}
	return &ContainerLauncher{
		image:   cfg.ContainerImage,
		network: network,
		grace:   grace,
		limits: Limits{
			CPUs:     res.CPUs,
			MemoryMB: res.MemoryMB,
			DiskGB:   res.DiskGB,
			Enforced: true,
		},
		breaker: newStartBreaker("container-launch", log),
		log:     log,
	}
}

// EnsureNetwork creates the worker network if it does not already exist.
// Containers talk to services on this network, never to each other's files.
func (l *ContainerLauncher) EnsureNetwork(ctx context.Context) error {
	if _, err := runCommand(ctx, "docker", "network", "inspect", l.network); err == nil {
		return nil
	}
	if _, err := runCommand(ctx, "docker", "network", "create", l.network); err != nil {
		return fmt.Errorf("creating network %s: %w", l.network, err)
	}
	l.log.Info("created container network", "network", l.network)
	return nil
}

func (l *ContainerLauncher) containerName(workerID int) string {
	return fmt.Sprintf("swarm-worker-%d", workerID)
}

// Start runs a detached worker container. The worktree is bind-mounted so the
// worker's commits land on the host repository directly.
func (l *ContainerLauncher) Start(ctx context.Context, spec StartSpec) (*Handle, error) {
	if l.image == "" {
		return nil, &LaunchError{WorkerID: spec.WorkerID, Cause: fmt.Errorf("no container image configured")}
	}

	name := l.containerName(spec.WorkerID)

	// A stale container from a crashed run would collide on the name.
	_, _ = runCommand(ctx, "docker", "rm", "-f", name)

	args := []string{
		"run", "-d",
		"--name", name,
		"--network", l.network,
		"--cpus", strconv.FormatFloat(l.limits.CPUs, 'f', -1, 64),
		"--memory", fmt.Sprintf("%dm", l.limits.MemoryMB),
		"-v", spec.WorktreePath + ":/workspace",
		"-w", "/workspace",
	}
	for _, kv := range workerEnv(spec, PortBlock{}) {
		args = append(args, "-e", kv)
	}
	args = append(args, l.image)

	result, err := l.breaker.Execute(func() (interface{}, error) {
		out, runErr := runCommand(ctx, "docker", args...)
		if runErr != nil {
			return nil, runErr
		}
		return strings.TrimSpace(out), nil
	})
	if err != nil {
		return nil, &LaunchError{WorkerID: spec.WorkerID, Cause: err}
	}

	handle := &Handle{
		WorkerID:    spec.WorkerID,
		ContainerID: result.(string),
		StartedAt:   time.Now(),
	}
	l.log.WithWorker(spec.WorkerID).Info("worker container started",
		"container", handle.ContainerID[:12], "image", l.image)
	return handle, nil
}

// HealthCheck asks docker whether the container is still running.
func (l *ContainerLauncher) HealthCheck(handle *Handle) Health {
	if handle == nil || handle.ContainerID == "" {
		return HealthDead
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := runCommand(ctx, "docker", "inspect", "-f", "{{.State.Running}}", handle.ContainerID)
	if err != nil {
		return HealthDead
	}
	if strings.TrimSpace(out) == "true" {
		return HealthAlive
	}
	return HealthDead
}

// Stop terminates the container. Graceful stop lets docker deliver SIGTERM
// and waits the grace period before docker escalates to SIGKILL itself.
func (l *ContainerLauncher) Stop(ctx context.Context, handle *Handle, graceful bool) error {
	if handle == nil || handle.ContainerID == "" {
		return nil
	}

	if graceful {
		seconds := int(l.grace.Seconds())
		if _, err := runCommand(ctx, "docker", "stop", "-t", strconv.Itoa(seconds), handle.ContainerID); err != nil {
			return fmt.Errorf("stopping container for worker %d: %w", handle.WorkerID, err)
		}
	} else {
		if _, err := runCommand(ctx, "docker", "kill", handle.ContainerID); err != nil {
			return fmt.Errorf("killing container for worker %d: %w", handle.WorkerID, err)
		}
	}

	_, _ = runCommand(ctx, "docker", "rm", "-f", handle.ContainerID)
	return nil
}

// ResourceLimits reports the enforced container limits.
func (l *ContainerLauncher) ResourceLimits(handle *Handle) Limits {
	return l.limits
}
