package taskgraph

import (
	"fmt"
	"sort"
)

// ValidationError reports a task graph that cannot be scheduled.
// It is fatal: the orchestrator aborts before any worker starts.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task graph: %s", e.Reason)
}

// Graph is the immutable, level-partitioned task graph.
// Read-only after a successful Build; no component mutates topology at runtime.
type Graph struct {
	feature string
	levels  []*Level
	byID    map[string]*Task
}

// Build assembles and validates a graph from a flat task list.
// Tasks must carry contiguous level indexes starting at 0, and no two tasks in
// the same level may own the same file path.
func Build(feature string, tasks []*Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, &ValidationError{Reason: "graph is empty"}
	}

	byID := make(map[string]*Task, len(tasks))
	byLevel := make(map[int][]*Task)
	maxLevel := 0

	for _, task := range tasks {
		if task.ID == "" {
			return nil, &ValidationError{Reason: "task with empty id"}
		}
		if _, exists := byID[task.ID]; exists {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate task id %q", task.ID)}
		}
		if task.Level < 0 {
			return nil, &ValidationError{Reason: fmt.Sprintf("task %q has negative level %d", task.ID, task.Level)}
		}

		cp := cloneTask(task)
		byID[cp.ID] = cp
		byLevel[cp.Level] = append(byLevel[cp.Level], cp)
		if cp.Level > maxLevel {
			maxLevel = cp.Level
		}
	}

	// Levels must be contiguous from 0.
	levels := make([]*Level, 0, maxLevel+1)
	for i := 0; i <= maxLevel; i++ {
		tasks, ok := byLevel[i]
		if !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("level %d is empty (levels must be contiguous from 0)", i)}
		}
		levels = append(levels, &Level{Index: i, Tasks: tasks})
	}

	// Exclusive file ownership within each level.
	for _, level := range levels {
		owners := make(map[string]string)
		for _, task := range level.Tasks {
			for _, file := range task.Files {
				if other, taken := owners[file]; taken {
					return nil, &ValidationError{
						Reason: fmt.Sprintf("file %q owned by both %q and %q in level %d", file, other, task.ID, level.Index),
					}
				}
				owners[file] = task.ID
			}
		}
	}

	// Dependencies must exist and never point forward.
	for _, task := range byID {
		for _, depID := range task.DependsOn {
			dep, exists := byID[depID]
			if !exists {
				return nil, &ValidationError{Reason: fmt.Sprintf("task %q depends on unknown task %q", task.ID, depID)}
			}
			if dep.Level >= task.Level {
				return nil, &ValidationError{
					Reason: fmt.Sprintf("task %q (level %d) depends on %q (level %d); dependencies must point to earlier levels", task.ID, task.Level, depID, dep.Level),
				}
			}
		}
	}

	return &Graph{feature: feature, levels: levels, byID: byID}, nil
}

// Feature returns the feature identifier this graph was generated for.
func (g *Graph) Feature() string {
	return g.feature
}

// LevelCount returns the number of levels.
func (g *Graph) LevelCount() int {
	return len(g.levels)
}

// Levels enumerates levels in ascending index order.
func (g *Graph) Levels() []*Level {
	out := make([]*Level, len(g.levels))
	copy(out, g.levels)
	return out
}

// LevelTasks returns the tasks of one level in declaration order.
func (g *Graph) LevelTasks(index int) ([]*Task, error) {
	if index < 0 || index >= len(g.levels) {
		return nil, fmt.Errorf("level %d out of range [0, %d)", index, len(g.levels))
	}
	tasks := make([]*Task, len(g.levels[index].Tasks))
	for i, task := range g.levels[index].Tasks {
		tasks[i] = cloneTask(task)
	}
	return tasks, nil
}

// Get looks up a task by id.
func (g *Graph) Get(taskID string) (*Task, bool) {
	task, exists := g.byID[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// TaskCount returns the total number of tasks across all levels.
func (g *Graph) TaskCount() int {
	return len(g.byID)
}

// TaskIDs returns all task ids sorted lexicographically.
func (g *Graph) TaskIDs() []string {
	ids := make([]string, 0, len(g.byID))
	for id := range g.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
