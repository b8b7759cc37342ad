package coordinator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

// RequestApproval parks an active task in waiting_approval. The coordinator
// never leaves that state on its own; an Approve or Reject call is required.
func (c *Coordinator) RequestApproval(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.findActiveLocked(id)
	if task == nil {
		return fmt.Errorf("request approval for %s: %w", id, ErrTaskNotFound)
	}

	c.applyStatusLocked(task, models.TaskStatusWaitingApproval, nil, "")
	return nil
}

// Approve is the external approval event. It records the approver and
// completes a task that is waiting for approval, moving it to the completed
// list. A reason left by an earlier Reject is cleared.
func (c *Coordinator) Approve(id, approvedBy string, result map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.findActiveLocked(id)
	if task == nil {
		return fmt.Errorf("approve %s: %w", id, ErrTaskNotFound)
	}
	if task.Status != models.TaskStatusWaitingApproval {
		return fmt.Errorf("approve %s (status %s): %w", id, task.Status, ErrNotWaitingApproval)
	}

	if approvedBy == "" {
		approvedBy = "user"
	}
	task.ApprovedBy = approvedBy
	task.Error = ""
	c.logger.Info("approval granted", zap.String("task_id", id), zap.String("approved_by", approvedBy))

	c.applyStatusLocked(task, models.TaskStatusCompleted, result, "")
	return nil
}

// Reject denies approval and returns the task to in_progress for rework,
// recording reason as the task's error.
func (c *Coordinator) Reject(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.findActiveLocked(id)
	if task == nil {
		return fmt.Errorf("reject %s: %w", id, ErrTaskNotFound)
	}
	if task.Status != models.TaskStatusWaitingApproval {
		return fmt.Errorf("reject %s (status %s): %w", id, task.Status, ErrNotWaitingApproval)
	}

	c.logger.Info("approval rejected", zap.String("task_id", id), zap.String("reason", reason))
	c.applyStatusLocked(task, models.TaskStatusInProgress, nil, reason)
	return nil
}

// AwaitingApproval returns the tasks parked in waiting_approval.
func (c *Coordinator) AwaitingApproval() []*models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.Task
	for _, t := range c.active {
		if t.Status == models.TaskStatusWaitingApproval {
			out = append(out, t.Clone())
		}
	}
	return out
}
