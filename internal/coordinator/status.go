package coordinator

import (
	"time"

	"github.com/ShayCichocki/relay/pkg/models"
)

// SystemStatus is a read-only summary of the coordinator.
type SystemStatus struct {
	Name              string                    `json:"name" yaml:"name"`
	TotalTasksCreated int                       `json:"total_tasks_created" yaml:"total_tasks_created"`
	ActiveTasks       int                       `json:"active_tasks" yaml:"active_tasks"`
	CompletedTasks    int                       `json:"completed_tasks" yaml:"completed_tasks"`
	FailedTasks       int                       `json:"failed_tasks" yaml:"failed_tasks"`
	TasksByStatus     map[models.TaskStatus]int `json:"tasks_by_status" yaml:"tasks_by_status"`
	ReadyTasks        int                       `json:"ready_tasks" yaml:"ready_tasks"`
	WaitingApproval   int                       `json:"waiting_approval" yaml:"waiting_approval"`
	LastHealthCheck   time.Time                 `json:"last_health_check" yaml:"last_health_check"`
	Timestamp         time.Time                 `json:"timestamp" yaml:"timestamp"`
}

// GetSystemStatus aggregates counts over the task lists. Only statuses with
// at least one active task appear in TasksByStatus. It has no side effects.
func (c *Coordinator) GetSystemStatus() SystemStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byStatus := make(map[models.TaskStatus]int)
	for _, t := range c.active {
		byStatus[t.Status]++
	}

	return SystemStatus{
		Name:              c.name,
		TotalTasksCreated: c.counter,
		ActiveTasks:       len(c.active),
		CompletedTasks:    len(c.completed),
		FailedTasks:       len(c.failed),
		TasksByStatus:     byStatus,
		ReadyTasks:        len(c.readyLocked()),
		WaitingApproval:   byStatus[models.TaskStatusWaitingApproval],
		LastHealthCheck:   c.lastHealthCheck,
		Timestamp:         c.now(),
	}
}
