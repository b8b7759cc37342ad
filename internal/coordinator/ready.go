package coordinator

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

// GetReadyTasks returns the pending tasks whose dependencies are all in the
// completed list with status completed, ordered by priority (1 first). Ties
// keep creation order.
//
// A cancelled or failed dependency never unblocks its dependents.
func (c *Coordinator) GetReadyTasks() []*models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ready := c.readyLocked()
	out := make([]*models.Task, 0, len(ready))
	for _, t := range ready {
		out = append(out, t.Clone())
	}
	return out
}

func (c *Coordinator) readyLocked() []*models.Task {
	var ready []*models.Task

	for _, task := range c.active {
		if task.Status != models.TaskStatusPending {
			continue
		}

		depsMet := true
		for _, depID := range task.Dependencies {
			dep := c.findCompletedLocked(depID)
			if dep == nil || dep.Status != models.TaskStatusCompleted {
				c.logger.Debug("dependency not satisfied",
					zap.String("task_id", task.ID),
					zap.String("dependency", depID),
				)
				depsMet = false
				break
			}
		}

		if depsMet {
			ready = append(ready, task)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority < ready[j].Priority
	})
	return ready
}
