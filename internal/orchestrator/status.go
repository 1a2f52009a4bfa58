package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/swarm-dev/swarm/internal/state"
)

// StatusSummary condenses a state snapshot for the status command.
type StatusSummary struct {
	Desired      string
	TasksByState map[string]int
	WorkersLive  int
	WorkersTotal int
	Levels       []state.LevelRecord
}

// Summarize builds a status summary from a snapshot.
func Summarize(snap *state.Snapshot) StatusSummary {
	summary := StatusSummary{
		Desired:      snap.Desired,
		TasksByState: make(map[string]int),
	}

	for _, task := range snap.Tasks {
		summary.TasksByState[task.Status]++
	}
	for _, worker := range snap.Workers {
		summary.WorkersTotal++
		if worker.Status == state.WorkerWorking || worker.Status == state.WorkerStarting || worker.Status == state.WorkerIdle {
			summary.WorkersLive++
		}
	}

	for _, level := range snap.Levels {
		summary.Levels = append(summary.Levels, level)
	}
	sort.Slice(summary.Levels, func(i, j int) bool {
		return summary.Levels[i].Index < summary.Levels[j].Index
	})

	return summary
}

// String renders the summary as plain text, one line per concern.
func (s StatusSummary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "desired state: %s\n", s.Desired)
	fmt.Fprintf(&b, "workers: %d live / %d total\n", s.WorkersLive, s.WorkersTotal)

	states := make([]string, 0, len(s.TasksByState))
	for status := range s.TasksByState {
		states = append(states, status)
	}
	sort.Strings(states)
	for _, status := range states {
		fmt.Fprintf(&b, "tasks %s: %d\n", status, s.TasksByState[status])
	}

	for _, level := range s.Levels {
		line := fmt.Sprintf("level %d: %s", level.Index, level.Status)
		if level.BlockingGate != "" {
			line += fmt.Sprintf(" (blocking gate: %s)", level.BlockingGate)
		}
		b.WriteString(line + "\n")
	}

	return b.String()
}
