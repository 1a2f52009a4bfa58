package main

import (
	"testing"

	"github.com/swarm-dev/swarm/internal/orchestrator"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"rush": false, "stop": false, "retry": false, "status": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}

func TestRushFlags(t *testing.T) {
	if rushCmd.Flags().Lookup("workers") == nil {
		t.Error("rush is missing the --workers flag")
	}
	if rushCmd.Flags().Lookup("mode") == nil {
		t.Error("rush is missing the --mode flag")
	}
	if stopCmd.Flags().Lookup("force") == nil {
		t.Error("stop is missing the --force flag")
	}
}

func TestPrintReportDoesNotPanic(t *testing.T) {
	reports := []*orchestrator.Report{
		{LevelsCompleted: 2},
		{Failed: true, FailedLevel: 1, Detail: "required gate tests: fail", BlockingGate: "tests"},
		{Stopped: true, LevelsCompleted: 1},
		{Failed: true, BlockedTasks: []string{"t1"}},
	}
	for _, report := range reports {
		printReport(report)
	}
}
