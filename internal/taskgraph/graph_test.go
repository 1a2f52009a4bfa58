package taskgraph

import (
	"errors"
	"strings"
	"testing"
)

// TestBuildValidation tests graph validation with various structures.
func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name        string
		tasks       []*Task
		wantErr     bool
		errContains string
	}{
		{
			name: "valid single level",
			tasks: []*Task{
				{ID: "a", Level: 0, Files: []string{"a.go"}},
				{ID: "b", Level: 0, Files: []string{"b.go"}},
			},
		},
		{
			name: "valid two levels sharing a file across levels",
			tasks: []*Task{
				{ID: "a", Level: 0, Files: []string{"shared.go"}},
				{ID: "b", Level: 1, Files: []string{"shared.go"}},
			},
		},
		{
			name:        "empty graph",
			tasks:       nil,
			wantErr:     true,
			errContains: "empty",
		},
		{
			name: "file owned twice in same level",
			tasks: []*Task{
				{ID: "a", Level: 0, Files: []string{"x.go", "y.go"}},
				{ID: "b", Level: 0, Files: []string{"y.go"}},
			},
			wantErr:     true,
			errContains: `file "y.go"`,
		},
		{
			name: "non-contiguous levels",
			tasks: []*Task{
				{ID: "a", Level: 0, Files: []string{"a.go"}},
				{ID: "b", Level: 2, Files: []string{"b.go"}},
			},
			wantErr:     true,
			errContains: "level 1 is empty",
		},
		{
			name: "level not starting at zero",
			tasks: []*Task{
				{ID: "a", Level: 1, Files: []string{"a.go"}},
			},
			wantErr:     true,
			errContains: "level 0 is empty",
		},
		{
			name: "duplicate task id",
			tasks: []*Task{
				{ID: "a", Level: 0},
				{ID: "a", Level: 0},
			},
			wantErr:     true,
			errContains: "duplicate",
		},
		{
			name: "dependency on unknown task",
			tasks: []*Task{
				{ID: "a", Level: 0, DependsOn: []string{"ghost"}},
			},
			wantErr:     true,
			errContains: "unknown task",
		},
		{
			name: "forward dependency",
			tasks: []*Task{
				{ID: "a", Level: 0, DependsOn: []string{"b"}},
				{ID: "b", Level: 1},
			},
			wantErr:     true,
			errContains: "earlier levels",
		},
		{
			name: "same-level dependency",
			tasks: []*Task{
				{ID: "a", Level: 0},
				{ID: "b", Level: 0, DependsOn: []string{"a"}},
			},
			wantErr:     true,
			errContains: "earlier levels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build("feat", tt.tasks)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("error %T is not a ValidationError", err)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestGraphAccessors(t *testing.T) {
	graph, err := Build("feat", []*Task{
		{ID: "a", Level: 0, Files: []string{"a.go"}},
		{ID: "b", Level: 0, Files: []string{"b.go"}},
		{ID: "c", Level: 1, Files: []string{"a.go"}, DependsOn: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if graph.Feature() != "feat" {
		t.Errorf("Feature = %q, want feat", graph.Feature())
	}
	if graph.LevelCount() != 2 {
		t.Errorf("LevelCount = %d, want 2", graph.LevelCount())
	}
	if graph.TaskCount() != 3 {
		t.Errorf("TaskCount = %d, want 3", graph.TaskCount())
	}

	tasks, err := graph.LevelTasks(0)
	if err != nil {
		t.Fatalf("LevelTasks(0): %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Errorf("level 0 tasks out of declaration order: %v", tasks)
	}

	if _, err := graph.LevelTasks(5); err == nil {
		t.Error("expected error for out-of-range level")
	}

	task, ok := graph.Get("c")
	if !ok || task.Level != 1 {
		t.Errorf("Get(c) = %+v, %v", task, ok)
	}
	if _, ok := graph.Get("ghost"); ok {
		t.Error("Get(ghost) should report missing")
	}
}

// TestGraphImmutable verifies callers cannot mutate graph internals through
// returned tasks.
func TestGraphImmutable(t *testing.T) {
	graph, err := Build("feat", []*Task{
		{ID: "a", Level: 0, Files: []string{"a.go"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	task, _ := graph.Get("a")
	task.Files[0] = "mutated.go"

	again, _ := graph.Get("a")
	if again.Files[0] != "a.go" {
		t.Error("graph task mutated through returned copy")
	}
}
