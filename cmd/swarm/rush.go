package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/events"
	"github.com/swarm-dev/swarm/internal/gates"
	"github.com/swarm-dev/swarm/internal/launcher"
	"github.com/swarm-dev/swarm/internal/logging"
	"github.com/swarm-dev/swarm/internal/merge"
	"github.com/swarm-dev/swarm/internal/orchestrator"
	"github.com/swarm-dev/swarm/internal/retry"
	"github.com/swarm-dev/swarm/internal/scheduler"
	"github.com/swarm-dev/swarm/internal/state"
	"github.com/swarm-dev/swarm/internal/taskgraph"
	"github.com/swarm-dev/swarm/internal/worktree"
)

var (
	rushWorkers int
	rushMode    string
)

var rushCmd = &cobra.Command{
	Use:   "rush <graph.json>",
	Short: "Execute a task graph level by level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRush(args[0])
	},
}

func init() {
	rushCmd.Flags().IntVar(&rushWorkers, "workers", 0, "maximum concurrent workers (overrides config)")
	rushCmd.Flags().StringVar(&rushMode, "mode", "", "launcher mode: subprocess, container, or auto (overrides config)")
}

func runRush(graphPath string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	if rushWorkers > 0 {
		cfg.Workers.MaxConcurrent = rushWorkers
	}
	if rushMode != "" {
		cfg.Launcher.Mode = rushMode
	}

	graph, err := taskgraph.LoadFile(graphPath)
	if err != nil {
		return err
	}

	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = filepath.Join(stateDirName, logDirName)
	}
	log, err := logging.New(logDir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()
	log = log.WithRun(uuid.NewString(), graph.Feature())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := state.Open(ctx, statePath())
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus()
	defer bus.Close()

	audit, err := events.NewAuditWriter(filepath.Join(stateDirName, auditLogName))
	if err != nil {
		return err
	}
	defer audit.Close()
	go audit.Drain(bus.Tap(0))

	repoRoot, err := os.Getwd()
	if err != nil {
		return err
	}

	worktrees := worktree.NewManager(worktree.Config{
		RepoPath:     repoRoot,
		TargetBranch: cfg.Merge.TargetBranch,
	})
	if err := worktrees.Prune(); err != nil {
		log.Warn("failed to prune stale worktrees", "error", err)
	}

	launch, err := launcher.New(cfg.Launcher, cfg.Ports, cfg.Resources, log)
	if err != nil {
		return err
	}

	retries, err := retry.NewController(retry.Policy{
		MaxAttempts: cfg.Workers.RetryAttempts,
		Strategy:    retry.Strategy(cfg.Workers.BackoffStrategy),
		Base:        time.Duration(cfg.Workers.BackoffBaseSeconds) * time.Second,
		Max:         time.Duration(cfg.Workers.BackoffMaxSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(graph, store, launch, worktrees, retries, bus, log, scheduler.Config{
		MaxConcurrent: cfg.Workers.MaxConcurrent,
		Staleness:     time.Duration(cfg.Workers.TimeoutMinutes) * time.Minute,
		SpecDir:       filepath.Dir(graphPath),
		StatePath:     statePath(),
	})

	gateRunner := gates.NewRunner(repoRoot, log)
	merger := merge.NewCoordinator(worktrees, gateRunner, cfg.Merge, cfg.Gates, cfg.Workers.StrictLevels, bus, log)

	run := orchestrator.NewRun(cfg, graph, store, sched, merger, bus, log)
	report, err := run.Execute(ctx)
	if err != nil {
		return err
	}

	printReport(report)
	exitCode = report.ExitCode()
	return nil
}

func printReport(report *orchestrator.Report) {
	switch {
	case report.Stopped:
		fmt.Printf("run stopped: %d level(s) completed\n", report.LevelsCompleted)
	case report.Failed:
		fmt.Printf("run failed at level %d: %s\n", report.FailedLevel, report.Detail)
		if report.BlockingGate != "" {
			fmt.Printf("blocking gate: %s\n", report.BlockingGate)
		}
	default:
		fmt.Printf("run complete: %d level(s) merged and gated\n", report.LevelsCompleted)
	}
	if len(report.BlockedTasks) > 0 {
		fmt.Printf("blocked tasks: %v (use 'swarm retry' to re-attempt)\n", report.BlockedTasks)
	}
}
