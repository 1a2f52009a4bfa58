package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/state"
)

const (
	stateDirName = ".swarm"
	stateDBName  = "state.db"
	auditLogName = "events.jsonl"
	logDirName   = "logs"
)

var rootCmd = &cobra.Command{
	Use:           "swarm",
	Short:         "Orchestrate a fleet of isolated workers over a task graph",
	Long:          "swarm dispatches file-exclusive tasks to isolated workers level by level,\nmerging each completed level and holding it to the configured quality gates.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(rushCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "swarm: %v\n", err)
		return 1
	}
	return exitCode
}

// exitCode carries a non-zero exit status (failed run, required gate
// failure) out of command handlers that completed without a Go error.
var exitCode int

// statePath returns the project-local state database path.
func statePath() string {
	return filepath.Join(stateDirName, stateDBName)
}

// openStore opens the project state database, loading config for side
// effects like validation.
func openStore(ctx context.Context) (*state.SQLiteStore, *config.Config, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, nil, err
	}
	store, err := state.Open(ctx, statePath())
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}
