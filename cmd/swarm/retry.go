package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swarm-dev/swarm/internal/events"
	"github.com/swarm-dev/swarm/internal/orchestrator"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset blocked and failed tasks for another attempt",
	Long:  "Resets every blocked or failed task to pending with a cleared attempt\ncounter, and reopens levels that failed only because of those tasks.\nLevels failed by a required quality gate stay failed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		audit, err := events.NewAuditWriter(filepath.Join(stateDirName, auditLogName))
		if err != nil {
			return err
		}
		defer audit.Close()

		bus := events.NewBus()
		drained := make(chan struct{})
		go func() {
			audit.Drain(bus.Tap(0))
			close(drained)
		}()

		reset, err := orchestrator.RetryTasks(ctx, store, bus)
		bus.Close()
		<-drained
		if err != nil {
			return err
		}
		if len(reset) == 0 {
			fmt.Println("no blocked or failed tasks to retry")
			return nil
		}
		fmt.Printf("reset %d task(s): %v\n", len(reset), reset)
		return nil
	},
}
