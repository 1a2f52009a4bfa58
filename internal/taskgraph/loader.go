package taskgraph

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gammazero/toposort"
)

// graphFile is the on-disk task graph format. Two forms are accepted:
// an explicit level partition ("levels"), or a flat task list ("tasks")
// whose levels are derived from depends_on edges.
type graphFile struct {
	Feature string `json:"feature"`
	Levels  []struct {
		Index int     `json:"index"`
		Tasks []*Task `json:"tasks"`
	} `json:"levels,omitempty"`
	Tasks []*Task `json:"tasks,omitempty"`
}

// LoadFile reads a task graph specification from a JSON file.
// Consumed once at startup; the orchestrator treats the file as opaque input.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task graph %s: %w", path, err)
	}
	return Load(data)
}

// Load parses and validates a task graph from JSON.
func Load(data []byte) (*Graph, error) {
	var file graphFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing task graph: %w", err)
	}

	if len(file.Levels) > 0 && len(file.Tasks) > 0 {
		return nil, &ValidationError{Reason: "graph declares both levels and a flat task list"}
	}

	switch {
	case len(file.Levels) > 0:
		var tasks []*Task
		for _, level := range file.Levels {
			for _, task := range level.Tasks {
				cp := cloneTask(task)
				cp.Level = level.Index
				tasks = append(tasks, cp)
			}
		}
		return Build(file.Feature, tasks)

	case len(file.Tasks) > 0:
		tasks, err := deriveLevels(file.Tasks)
		if err != nil {
			return nil, err
		}
		return Build(file.Feature, tasks)

	default:
		return nil, &ValidationError{Reason: "graph is empty"}
	}
}

// deriveLevels assigns each task the length of its longest dependency chain.
// Tasks with no dependencies land in level 0. Cycles and unknown dependencies
// are validation errors.
func deriveLevels(tasks []*Task) ([]*Task, error) {
	byID := make(map[string]*Task, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			return nil, &ValidationError{Reason: "task with empty id"}
		}
		if _, exists := byID[task.ID]; exists {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate task id %q", task.ID)}
		}
		byID[task.ID] = cloneTask(task)
	}

	var edges []toposort.Edge
	for _, task := range byID {
		if len(task.DependsOn) == 0 {
			// Ensure root tasks appear in the sort output.
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, depID := range task.DependsOn {
			if _, exists := byID[depID]; !exists {
				return nil, &ValidationError{Reason: fmt.Sprintf("task %q depends on unknown task %q", task.ID, depID)}
			}
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("dependency cycle: %v", err)}
	}

	// Depth is computed in topological order, so every dependency's depth is
	// already final when its dependents are visited.
	out := make([]*Task, 0, len(byID))
	for _, id := range sorted {
		if id == nil {
			continue
		}
		task := byID[id.(string)]
		depth := 0
		for _, depID := range task.DependsOn {
			if dep := byID[depID]; dep.Level+1 > depth {
				depth = dep.Level + 1
			}
		}
		task.Level = depth
		out = append(out, task)
	}

	if len(out) != len(byID) {
		return nil, &ValidationError{Reason: "topological sort lost tasks (disconnected duplicate edges)"}
	}

	return out, nil
}
