package coordinator

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/relay/pkg/models"
)

func TestExportRestore_RoundTrip(t *testing.T) {
	src := New(WithName("Main"), WithClock(fixedClock()))
	ids := src.CreateRepositoryAnalysisWorkflow("/repo")
	if err := src.UpdateTaskStatus(ids[0], models.TaskStatusCompleted, map[string]any{"files": 12}, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if err := src.UpdateTaskStatus(ids[1], models.TaskStatusFailed, nil, "timeout"); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	exported := src.Export()
	if exported.Name != "Main" {
		t.Errorf("expected name 'Main', got %q", exported.Name)
	}
	if exported.TaskCounter != 5 {
		t.Errorf("expected counter 5, got %d", exported.TaskCounter)
	}
	if len(exported.ActiveTasks) != 3 || len(exported.CompletedTasks) != 1 || len(exported.FailedTasks) != 1 {
		t.Errorf("expected 3/1/1 active/completed/failed, got %d/%d/%d",
			len(exported.ActiveTasks), len(exported.CompletedTasks), len(exported.FailedTasks))
	}

	dst := New(WithClock(fixedClock()))
	if err := dst.Restore(exported); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !reflect.DeepEqual(exported, dst.Export()) {
		t.Error("restored coordinator does not export the same state")
	}

	next := dst.CreateTask(TaskSpec{Title: "after restore"})
	if next.ID != "task_0006" {
		t.Errorf("expected next ID task_0006, got %s", next.ID)
	}
}

func TestExport_IsDeepCopy(t *testing.T) {
	c := newTestCoordinator(t)
	c.CreateTask(TaskSpec{Title: "x", Dependencies: []string{"task_0009"}})

	exported := c.Export()
	exported.ActiveTasks[0].Title = "changed"
	exported.ActiveTasks[0].Dependencies[0] = "changed"

	got, _ := c.GetTask("task_0001")
	if got.Title != "x" {
		t.Errorf("expected title 'x', got %q", got.Title)
	}
	if !reflect.DeepEqual(got.Dependencies, []string{"task_0009"}) {
		t.Errorf("expected dependencies [task_0009], got %v", got.Dependencies)
	}
}

func TestRestore_RaisesCounterToHighestID(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.Restore(State{
		ActiveTasks: []*models.Task{{ID: "task_0007", Status: models.TaskStatusPending}},
		TaskCounter: 2,
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	next := c.CreateTask(TaskSpec{Title: "n"})
	if next.ID != "task_0008" {
		t.Errorf("expected next ID task_0008, got %s", next.ID)
	}
}

func TestRestore_RejectsInconsistentState(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{
			name: "duplicate id",
			state: State{
				ActiveTasks:    []*models.Task{{ID: "task_0001", Status: models.TaskStatusPending}},
				CompletedTasks: []*models.Task{{ID: "task_0001", Status: models.TaskStatusCompleted}},
			},
		},
		{
			name:  "terminal task in active list",
			state: State{ActiveTasks: []*models.Task{{ID: "task_0001", Status: models.TaskStatusCompleted}}},
		},
		{
			name:  "pending task in failed list",
			state: State{FailedTasks: []*models.Task{{ID: "task_0001", Status: models.TaskStatusPending}}},
		},
		{
			name:  "nil task",
			state: State{ActiveTasks: []*models.Task{nil}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t)
			c.CreateTask(TaskSpec{Title: "keep"})
			if err := c.Restore(tt.state); err == nil {
				t.Fatal("expected Restore to fail")
			}
			if n := len(c.ActiveTasks()); n != 1 {
				t.Errorf("failed restore must leave state untouched, got %d active tasks", n)
			}
		})
	}
}

func TestValidate_DetectsCycle(t *testing.T) {
	c := newTestCoordinator(t)
	c.CreateTask(TaskSpec{Title: "a", Dependencies: []string{"task_0002"}})
	c.CreateTask(TaskSpec{Title: "b", Dependencies: []string{"task_0001"}})

	if _, err := c.Validate(); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
	if n := len(c.GetReadyTasks()); n != 0 {
		t.Errorf("expected no ready tasks in a cycle, got %d", n)
	}
}

func TestValidate_ReportsDanglingDependencies(t *testing.T) {
	c := newTestCoordinator(t)
	c.CreateTask(TaskSpec{Title: "a", Dependencies: []string{"task_0100"}})

	report, err := c.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	want := map[string][]string{"task_0001": {"task_0100"}}
	if !reflect.DeepEqual(report.Dangling, want) {
		t.Errorf("expected dangling %v, got %v", want, report.Dangling)
	}
}

func TestDependents(t *testing.T) {
	c := newTestCoordinator(t)
	ids := c.CreateRepositoryAnalysisWorkflow("/repo")

	if got := c.Dependents(ids[0]); !reflect.DeepEqual(got, []string{ids[1], ids[2]}) {
		t.Errorf("expected dependents of %s to be %v, got %v", ids[0], ids[1:3], got)
	}
	if got := c.Dependents(ids[4]); len(got) != 0 {
		t.Errorf("expected no dependents of %s, got %v", ids[4], got)
	}
}
