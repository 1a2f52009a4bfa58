package taskgraph

// Task is one unit of work: an exclusive set of files to edit and a
// verification command to prove the edit. Tasks are immutable once the graph
// is loaded; runtime status lives in the state store, not here.
type Task struct {
	ID            string   `json:"id"`
	Description   string   `json:"description,omitempty"`
	Level         int      `json:"level"`
	Files         []string `json:"files"`
	VerifyCommand string   `json:"verify_command,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty"`
}

// Level is an ordered batch of tasks with no intra-batch ordering constraint.
// Level N fully gates level N+1.
type Level struct {
	Index int
	Tasks []*Task
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.Files != nil {
		cp.Files = append([]string(nil), task.Files...)
	}
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	return &cp
}
