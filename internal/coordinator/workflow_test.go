package coordinator

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/relay/pkg/models"
)

// onlyReady fails unless exactly one task is ready, and returns it.
func onlyReady(t *testing.T, c *Coordinator) *models.Task {
	t.Helper()
	ready := c.GetReadyTasks()
	if len(ready) != 1 {
		t.Fatalf("expected exactly 1 ready task, got %v", taskIDs(ready))
	}
	return ready[0]
}

func TestRepositoryAnalysisWorkflow_EndToEnd(t *testing.T) {
	c := newTestCoordinator(t)

	ids := c.CreateRepositoryAnalysisWorkflow("/repo")
	if len(ids) != 5 {
		t.Fatalf("expected 5 workflow tasks, got %d", len(ids))
	}

	scan := onlyReady(t, c)
	if scan.ID != ids[0] {
		t.Errorf("expected %s ready first, got %s", ids[0], scan.ID)
	}
	if scan.Kind != models.TaskKindRepositoryAnalysis {
		t.Errorf("expected kind repository_analysis, got %s", scan.Kind)
	}
	if !strings.Contains(scan.Description, "/repo") {
		t.Errorf("expected description to mention /repo, got %q", scan.Description)
	}
	if len(scan.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", scan.Dependencies)
	}

	if err := c.UpdateTaskStatus(scan.ID, models.TaskStatusCompleted,
		map[string]any{"analysis_complete": true, "findings": []any{"Sample finding"}}, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	research := onlyReady(t, c)
	if research.ID != ids[1] || research.Kind != models.TaskKindResearchInvestigation {
		t.Errorf("expected research task %s, got %s (%s)", ids[1], research.ID, research.Kind)
	}

	if err := c.UpdateTaskStatus(research.ID, models.TaskStatusCompleted, nil, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	docs := onlyReady(t, c)
	if docs.ID != ids[2] || docs.Kind != models.TaskKindDocumentationUpdate {
		t.Errorf("expected documentation task %s, got %s (%s)", ids[2], docs.ID, docs.Kind)
	}
	if !docs.RequiresApproval {
		t.Error("expected documentation task to require approval")
	}
}

func TestRepositoryAnalysisWorkflow_Shape(t *testing.T) {
	c := newTestCoordinator(t)
	ids := c.CreateRepositoryAnalysisWorkflow("/srv/project")

	type want struct {
		kind     models.TaskKind
		priority int
		deps     []string
		approval bool
		team     models.Team
	}
	expected := []want{
		{models.TaskKindRepositoryAnalysis, 1, []string{}, false, models.TeamRepoAnalyst},
		{models.TaskKindResearchInvestigation, 2, []string{ids[0]}, false, models.TeamResearchLab},
		{models.TaskKindDocumentationUpdate, 2, []string{ids[0], ids[1]}, true, models.TeamImplementers},
		{models.TaskKindCodeImplementation, 1, []string{ids[2]}, true, models.TeamImplementers},
		{models.TaskKindTestingValidation, 1, []string{ids[3]}, false, models.TeamImplementers},
	}

	for i, id := range ids {
		task, ok := c.GetTask(id)
		if !ok {
			t.Fatalf("task %s not found", id)
		}
		w := expected[i]
		if task.Kind != w.kind {
			t.Errorf("%s: expected kind %s, got %s", id, w.kind, task.Kind)
		}
		if task.Priority != w.priority {
			t.Errorf("%s: expected priority %d, got %d", id, w.priority, task.Priority)
		}
		if !reflect.DeepEqual(task.Dependencies, w.deps) {
			t.Errorf("%s: expected dependencies %v, got %v", id, w.deps, task.Dependencies)
		}
		if task.RequiresApproval != w.approval {
			t.Errorf("%s: expected RequiresApproval %v, got %v", id, w.approval, task.RequiresApproval)
		}
		if task.AssignedTeam != w.team {
			t.Errorf("%s: expected team %s, got %s", id, w.team, task.AssignedTeam)
		}
		if task.Status != models.TaskStatusPending {
			t.Errorf("%s: expected status pending, got %s", id, task.Status)
		}
	}

	if _, err := c.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestRepositoryAnalysisWorkflow_ApprovalGateBlocksImplementation(t *testing.T) {
	c := newTestCoordinator(t)
	ids := c.CreateRepositoryAnalysisWorkflow("/repo")

	for _, id := range ids[:2] {
		if err := c.UpdateTaskStatus(id, models.TaskStatusCompleted, nil, ""); err != nil {
			t.Fatalf("UpdateTaskStatus(%s) failed: %v", id, err)
		}
	}
	if err := c.AssignTask(ids[2], models.TeamImplementers, "writer"); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	err := c.UpdateTaskStatus(ids[2], models.TaskStatusCompleted, nil, "")
	if !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
	if n := len(c.GetReadyTasks()); n != 0 {
		t.Errorf("expected nothing ready behind the gate, got %d", n)
	}

	if err := c.RequestApproval(ids[2]); err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if err := c.Approve(ids[2], "reviewer", map[string]any{"pages": 3}); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	if next := onlyReady(t, c); next.ID != ids[3] {
		t.Errorf("expected %s ready after approval, got %s", ids[3], next.ID)
	}

	docs, _ := c.GetTask(ids[2])
	if docs.ApprovedBy != "reviewer" {
		t.Errorf("expected ApprovedBy 'reviewer', got %q", docs.ApprovedBy)
	}
	if docs.Status != models.TaskStatusCompleted {
		t.Errorf("expected status completed, got %s", docs.Status)
	}
}
