package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarm-dev/swarm/internal/state"
)

var stopForce bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Request the running orchestrator to stop",
	Long:  "Writes the desired run state to the state database. The orchestrator\nobserves it on its next tick: graceful stop lets workers finish within the\ngrace period, --force terminates them immediately.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		desired := state.DesiredStop
		if stopForce {
			desired = state.DesiredForceStop
		}
		if err := store.SetDesired(ctx, desired); err != nil {
			return err
		}

		if stopForce {
			fmt.Println("forced stop requested")
		} else {
			fmt.Println("graceful stop requested")
		}
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "terminate workers immediately instead of waiting for the grace period")
}
