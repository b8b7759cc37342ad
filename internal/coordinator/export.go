package coordinator

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

// State is the persistable form of a coordinator.
type State struct {
	Name            string         `json:"name" yaml:"name"`
	ActiveTasks     []*models.Task `json:"active_tasks" yaml:"active_tasks"`
	CompletedTasks  []*models.Task `json:"completed_tasks" yaml:"completed_tasks"`
	FailedTasks     []*models.Task `json:"failed_tasks" yaml:"failed_tasks"`
	TaskCounter     int            `json:"task_counter" yaml:"task_counter"`
	LastHealthCheck time.Time      `json:"last_health_check" yaml:"last_health_check"`
}

// Export returns a deep copy of the coordinator's lists and counter.
func (c *Coordinator) Export() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return State{
		Name:            c.name,
		ActiveTasks:     cloneTasks(c.active),
		CompletedTasks:  cloneTasks(c.completed),
		FailedTasks:     cloneTasks(c.failed),
		TaskCounter:     c.counter,
		LastHealthCheck: c.lastHealthCheck,
	}
}

// Restore replaces the coordinator's contents with s. The counter is raised
// to at least the highest restored task number so IDs are never reused.
func (c *Coordinator) Restore(s State) error {
	seen := make(map[string]bool)
	highest := 0
	check := func(list []*models.Task, terminal bool) error {
		for _, t := range list {
			if t == nil {
				return fmt.Errorf("restore: nil task")
			}
			if seen[t.ID] {
				return fmt.Errorf("restore: duplicate task %s", t.ID)
			}
			seen[t.ID] = true
			var n int
			if _, err := fmt.Sscanf(t.ID, "task_%d", &n); err == nil && n > highest {
				highest = n
			}
			if terminal != t.Status.IsTerminal() {
				return fmt.Errorf("restore: task %s has status %s in wrong list", t.ID, t.Status)
			}
		}
		return nil
	}
	if err := check(s.ActiveTasks, false); err != nil {
		return err
	}
	if err := check(s.CompletedTasks, true); err != nil {
		return err
	}
	if err := check(s.FailedTasks, true); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Name != "" {
		c.name = s.Name
	}
	c.active = cloneTasks(s.ActiveTasks)
	c.completed = cloneTasks(s.CompletedTasks)
	c.failed = cloneTasks(s.FailedTasks)
	c.counter = s.TaskCounter
	if c.counter < highest {
		c.counter = highest
	}
	if !s.LastHealthCheck.IsZero() {
		c.lastHealthCheck = s.LastHealthCheck
	}

	c.logger.Debug("restored coordinator state",
		zap.Int("active", len(c.active)),
		zap.Int("completed", len(c.completed)),
		zap.Int("failed", len(c.failed)),
		zap.Int("counter", c.counter),
	)
	return nil
}
