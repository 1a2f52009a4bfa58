package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarm-dev/swarm/internal/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the current run state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		snap, err := store.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Print(orchestrator.Summarize(snap).String())
		return nil
	},
}
