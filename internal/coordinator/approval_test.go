package coordinator

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/relay/pkg/models"
)

func TestApproval_RequestAndApprove(t *testing.T) {
	c := newTestCoordinator(t)
	task := c.CreateTask(TaskSpec{Title: "gated", RequiresApproval: true})

	if err := c.AssignTask(task.ID, models.TeamImplementers, ""); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	if err := c.RequestApproval(task.ID); err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}

	waiting := c.AwaitingApproval()
	if len(waiting) != 1 {
		t.Fatalf("expected 1 task awaiting approval, got %d", len(waiting))
	}
	if waiting[0].ID != task.ID {
		t.Errorf("expected %s awaiting approval, got %s", task.ID, waiting[0].ID)
	}

	if err := c.Approve(task.ID, "", nil); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	got, ok := c.GetTask(task.ID)
	if !ok {
		t.Fatal("expected approved task to be found")
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("expected status completed, got %s", got.Status)
	}
	if got.ApprovedBy != "user" {
		t.Errorf("expected ApprovedBy 'user', got %q", got.ApprovedBy)
	}
	if n := len(c.AwaitingApproval()); n != 0 {
		t.Errorf("expected no tasks awaiting approval, got %d", n)
	}
}

func TestApproval_ApproveRequiresWaitingState(t *testing.T) {
	c := newTestCoordinator(t)
	task := c.CreateTask(TaskSpec{Title: "gated", RequiresApproval: true})

	if err := c.Approve(task.ID, "user", nil); !errors.Is(err, ErrNotWaitingApproval) {
		t.Errorf("Approve: expected ErrNotWaitingApproval, got %v", err)
	}
	if err := c.Reject(task.ID, "no"); !errors.Is(err, ErrNotWaitingApproval) {
		t.Errorf("Reject: expected ErrNotWaitingApproval, got %v", err)
	}
}

func TestApproval_RejectReturnsToInProgress(t *testing.T) {
	c := newTestCoordinator(t)
	task := c.CreateTask(TaskSpec{Title: "gated", RequiresApproval: true})
	if err := c.RequestApproval(task.ID); err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}

	if err := c.Reject(task.ID, "needs more tests"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	got, _ := c.GetTask(task.ID)
	if got.Status != models.TaskStatusInProgress {
		t.Errorf("expected status in_progress, got %s", got.Status)
	}
	if got.Error != "needs more tests" {
		t.Errorf("expected rejection reason as error, got %q", got.Error)
	}
	if got.ApprovedBy != "" {
		t.Errorf("expected no approver, got %q", got.ApprovedBy)
	}

	err := c.UpdateTaskStatus(task.ID, models.TaskStatusCompleted, nil, "")
	if !errors.Is(err, ErrApprovalRequired) {
		t.Errorf("expected ErrApprovalRequired, got %v", err)
	}
}

func TestApproval_ApproveAfterRejectClearsReason(t *testing.T) {
	c := newTestCoordinator(t)
	task := c.CreateTask(TaskSpec{Title: "gated", RequiresApproval: true})

	if err := c.RequestApproval(task.ID); err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if err := c.Reject(task.ID, "needs more tests"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if err := c.RequestApproval(task.ID); err != nil {
		t.Fatalf("second RequestApproval failed: %v", err)
	}
	if err := c.Approve(task.ID, "reviewer", map[string]any{"tests": 12}); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	got, ok := c.GetTask(task.ID)
	if !ok {
		t.Fatal("expected approved task to be found")
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("expected status completed, got %s", got.Status)
	}
	if got.Error != "" {
		t.Errorf("expected rejection reason cleared on approval, got %q", got.Error)
	}
	if got.ApprovedBy != "reviewer" {
		t.Errorf("expected ApprovedBy 'reviewer', got %q", got.ApprovedBy)
	}
}

func TestApproval_NotFound(t *testing.T) {
	c := newTestCoordinator(t)
	if err := c.RequestApproval("task_0404"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("RequestApproval: expected ErrTaskNotFound, got %v", err)
	}
	if err := c.Approve("task_0404", "u", nil); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Approve: expected ErrTaskNotFound, got %v", err)
	}
	if err := c.Reject("task_0404", "r"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Reject: expected ErrTaskNotFound, got %v", err)
	}
}

func TestApproval_UngatedTaskCanCompleteDirectly(t *testing.T) {
	c := newTestCoordinator(t)
	task := c.CreateTask(TaskSpec{Title: "plain"})
	if err := c.UpdateTaskStatus(task.ID, models.TaskStatusCompleted, nil, ""); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
}

func TestApproval_GatedTaskCanStillFail(t *testing.T) {
	c := newTestCoordinator(t)
	task := c.CreateTask(TaskSpec{Title: "gated", RequiresApproval: true})
	if err := c.RequestApproval(task.ID); err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if err := c.UpdateTaskStatus(task.ID, models.TaskStatusCancelled, nil, "scope cut"); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if n := len(c.FailedTasks()); n != 1 {
		t.Errorf("expected 1 failed task, got %d", n)
	}
}
