package models

import "time"

// TaskKind classifies the work a task represents.
type TaskKind string

const (
	TaskKindRepositoryAnalysis    TaskKind = "repository_analysis"
	TaskKindDocumentationUpdate   TaskKind = "documentation_update"
	TaskKindCodeImplementation    TaskKind = "code_implementation"
	TaskKindResearchInvestigation TaskKind = "research_investigation"
	TaskKindIntegrationSetup      TaskKind = "integration_setup"
	TaskKindTestingValidation     TaskKind = "testing_validation"
	TaskKindDeploymentAutomation  TaskKind = "deployment_automation"
)

// Valid returns true if the kind is a known value.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindRepositoryAnalysis, TaskKindDocumentationUpdate, TaskKindCodeImplementation,
		TaskKindResearchInvestigation, TaskKindIntegrationSetup, TaskKindTestingValidation,
		TaskKindDeploymentAutomation:
		return true
	default:
		return false
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is assigned and being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusWaitingApproval indicates the task is parked until a human approves it.
	TaskStatusWaitingApproval TaskStatus = "waiting_approval"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was abandoned.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusWaitingApproval,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a task in this status leaves the active set.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// AllTaskStatuses lists every status in lifecycle order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusInProgress,
		TaskStatusWaitingApproval,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusCancelled,
	}
}

// Team is the agent team a task is routed to.
// The coordinator treats it as a free-form label.
type Team string

const (
	TeamRepoAnalyst  Team = "repo_analyst"
	TeamResearchLab  Team = "research_lab"
	TeamImplementers Team = "implementers"
)

// Valid returns true if the team is one of the built-in teams.
func (t Team) Valid() bool {
	switch t {
	case TeamRepoAnalyst, TeamResearchLab, TeamImplementers:
		return true
	default:
		return false
	}
}

// Task represents a unit of work tracked by the coordinator.
type Task struct {
	// ID is the coordinator-assigned identifier (task_0001, task_0002, ...).
	ID string `json:"id" yaml:"id"`
	// Kind classifies the work.
	Kind TaskKind `json:"kind" yaml:"kind"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority orders ready tasks: 1 is high, 3 is low.
	Priority int `json:"priority" yaml:"priority"`
	// EstimatedDuration is a free-text estimate. It is never enforced.
	EstimatedDuration string `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	// Dependencies lists task IDs that must be completed before this task is ready.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// AssignedTeam is the team working on this task, if any.
	AssignedTeam Team `json:"assigned_team,omitempty" yaml:"assigned_team,omitempty"`
	// AssignedAgent is the agent within the team, if any.
	AssignedAgent string `json:"assigned_agent,omitempty" yaml:"assigned_agent,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status"`
	// RequiresApproval gates completion on a human approval event.
	RequiresApproval bool `json:"human_approval_required" yaml:"human_approval_required"`
	// ApprovedBy records who granted approval.
	ApprovedBy string `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`
	// Result holds the output reported when the task finished.
	Result map[string]any `json:"result,omitempty" yaml:"result,omitempty"`
	// Error contains the error message if the task failed or was rejected.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a copy of the task that shares no slices or maps with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = make([]string, len(t.Dependencies))
		copy(c.Dependencies, t.Dependencies)
	}
	if t.Result != nil {
		c.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			c.Result[k] = v
		}
	}
	return &c
}
