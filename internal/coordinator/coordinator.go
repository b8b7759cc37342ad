// Package coordinator tracks a workflow's task graph: creation, team
// assignment, status transitions, dependency readiness and approval gating.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	// ErrTaskNotFound is returned when the task ID is not in the active set.
	ErrTaskNotFound = errors.New("task not found in active set")
	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrApprovalRequired is returned when an approval-gated task is
	// completed without going through Approve.
	ErrApprovalRequired = errors.New("task requires human approval before completion")
	// ErrNotWaitingApproval is returned by Approve and Reject when the task
	// is not parked in waiting_approval.
	ErrNotWaitingApproval = errors.New("task is not waiting for approval")
)

const (
	defaultName     = "Supervisor"
	defaultPriority = 2
	defaultEstimate = "1 hour"
)

// TaskSpec holds the caller-supplied fields of a new task.
type TaskSpec struct {
	Kind              models.TaskKind
	Title             string
	Description       string
	Priority          int
	EstimatedDuration string
	Dependencies      []string
	RequiresApproval  bool
}

// Coordinator owns one workflow's worth of tasks.
//
// Tasks live in exactly one of three lists: active, completed or failed.
// Cancelled tasks are filed under failed. Once a task leaves the active list
// it is never mutated again.
type Coordinator struct {
	mu sync.RWMutex

	name      string
	active    []*models.Task
	completed []*models.Task
	failed    []*models.Task
	counter   int

	lastHealthCheck time.Time

	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// New creates an empty coordinator.
func New(opts ...Option) *Coordinator {
	o := coordinatorOptions{name: defaultName, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.now == nil {
		o.now = time.Now
	}

	return &Coordinator{
		name:            o.name,
		logger:          o.logger.With(zap.String("component", "coordinator")),
		recorder:        o.recorder,
		now:             o.now,
		lastHealthCheck: o.now(),
	}
}

// Name returns the coordinator's name.
func (c *Coordinator) Name() string {
	return c.name
}

// CreateTask allocates a fresh ID and appends a pending task to the active set.
// Dependencies are not checked: a forward reference simply never resolves
// until the referenced task exists and completes.
func (c *Coordinator) CreateTask(spec TaskSpec) *models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter++
	now := c.now()

	priority := spec.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	estimate := spec.EstimatedDuration
	if estimate == "" {
		estimate = defaultEstimate
	}

	task := &models.Task{
		ID:                taskID(c.counter),
		Kind:              spec.Kind,
		Title:             spec.Title,
		Description:       spec.Description,
		Priority:          priority,
		EstimatedDuration: estimate,
		Dependencies:      append([]string{}, spec.Dependencies...),
		Status:            models.TaskStatusPending,
		RequiresApproval:  spec.RequiresApproval,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	c.active = append(c.active, task)

	c.logger.Info("created task",
		zap.String("task_id", task.ID),
		zap.String("title", task.Title),
		zap.String("kind", string(task.Kind)),
		zap.Strings("dependencies", task.Dependencies),
	)
	c.recorder.TaskCreated(string(task.Kind))

	return task.Clone()
}

// AssignTask records the team and agent for an active task and moves it to
// in_progress regardless of its prior status. Readiness is not checked; callers
// should only assign tasks surfaced by GetReadyTasks.
func (c *Coordinator) AssignTask(id string, team models.Team, agent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.findActiveLocked(id)
	if task == nil {
		return fmt.Errorf("assign %s: %w", id, ErrTaskNotFound)
	}

	task.AssignedTeam = team
	task.AssignedAgent = agent
	task.Status = models.TaskStatusInProgress
	task.UpdatedAt = c.now()

	fields := []zap.Field{zap.String("task_id", id), zap.String("team", string(team))}
	if agent != "" {
		fields = append(fields, zap.String("agent", agent))
	}
	c.logger.Info("assigned task", fields...)
	c.recorder.TaskTransitioned(string(task.Status))

	return nil
}

// UpdateTaskStatus sets the status of an active task, storing result and
// errMsg when they are non-empty. Terminal statuses move the task out of the
// active set: completed into the completed list, failed and cancelled into
// the failed list.
//
// Completing a task with RequiresApproval set is refused with
// ErrApprovalRequired; use RequestApproval and Approve instead.
func (c *Coordinator) UpdateTaskStatus(id string, status models.TaskStatus, result map[string]any, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("update %s to %q: %w", id, status, ErrInvalidStatus)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.findActiveLocked(id)
	if task == nil {
		return fmt.Errorf("update %s: %w", id, ErrTaskNotFound)
	}
	if status == models.TaskStatusCompleted && task.RequiresApproval && task.ApprovedBy == "" {
		return fmt.Errorf("complete %s: %w", id, ErrApprovalRequired)
	}

	c.applyStatusLocked(task, status, result, errMsg)
	return nil
}

// applyStatusLocked writes the transition and files terminal tasks.
func (c *Coordinator) applyStatusLocked(task *models.Task, status models.TaskStatus, result map[string]any, errMsg string) {
	task.Status = status
	task.UpdatedAt = c.now()
	if len(result) > 0 {
		task.Result = result
	}
	if errMsg != "" {
		task.Error = errMsg
	}

	if status.IsTerminal() {
		c.removeActiveLocked(task.ID)
		if status == models.TaskStatusCompleted {
			c.completed = append(c.completed, task)
		} else {
			c.failed = append(c.failed, task)
		}
	}

	c.logger.Info("updated task status",
		zap.String("task_id", task.ID),
		zap.String("status", string(status)),
	)
	c.recorder.TaskTransitioned(string(status))
}

// GetTask looks a task up in the active, completed and failed lists.
// The returned task is a copy.
func (c *Coordinator) GetTask(id string) (*models.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, list := range [][]*models.Task{c.active, c.completed, c.failed} {
		for _, t := range list {
			if t.ID == id {
				return t.Clone(), true
			}
		}
	}
	return nil, false
}

// ActiveTasks returns copies of the active tasks in creation order.
func (c *Coordinator) ActiveTasks() []*models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneTasks(c.active)
}

// CompletedTasks returns copies of the completed tasks in completion order.
func (c *Coordinator) CompletedTasks() []*models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneTasks(c.completed)
}

// FailedTasks returns copies of the failed and cancelled tasks.
func (c *Coordinator) FailedTasks() []*models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneTasks(c.failed)
}

func (c *Coordinator) findActiveLocked(id string) *models.Task {
	for _, t := range c.active {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (c *Coordinator) findCompletedLocked(id string) *models.Task {
	for _, t := range c.completed {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (c *Coordinator) removeActiveLocked(id string) {
	kept := c.active[:0]
	for _, t := range c.active {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	// Clear the tail so the removed pointer is not retained.
	for i := len(kept); i < len(c.active); i++ {
		c.active[i] = nil
	}
	c.active = kept
}

func taskID(n int) string {
	return fmt.Sprintf("task_%04d", n)
}

func cloneTasks(tasks []*models.Task) []*models.Task {
	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	return out
}
