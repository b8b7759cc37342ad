package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"waiting_approval is valid", TaskStatusWaitingApproval, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"cancelled is valid", TaskStatusCancelled, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"american spelling is invalid", TaskStatus("canceled"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusCancelled: true,
	}
	for _, s := range AllTaskStatuses() {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Errorf("TaskStatus(%q).IsTerminal() = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestTaskKind_Valid(t *testing.T) {
	kinds := []TaskKind{
		TaskKindRepositoryAnalysis,
		TaskKindDocumentationUpdate,
		TaskKindCodeImplementation,
		TaskKindResearchInvestigation,
		TaskKindIntegrationSetup,
		TaskKindTestingValidation,
		TaskKindDeploymentAutomation,
	}
	for _, k := range kinds {
		if !k.Valid() {
			t.Errorf("TaskKind(%q).Valid() = false, want true", k)
		}
	}
	if TaskKind("refactoring").Valid() {
		t.Error("unknown kind reported as valid")
	}
}

func TestTeam_Valid(t *testing.T) {
	if !TeamImplementers.Valid() {
		t.Error("implementers should be valid")
	}
	if Team("qa").Valid() {
		t.Error("qa is not a built-in team")
	}
}

func TestTask_Clone(t *testing.T) {
	orig := &Task{
		ID:           "task_0001",
		Dependencies: []string{"task_0000"},
		Result:       map[string]any{"ok": true},
	}

	c := orig.Clone()
	c.Dependencies[0] = "changed"
	c.Result["ok"] = false

	if orig.Dependencies[0] != "task_0000" {
		t.Errorf("clone shares dependencies slice: %v", orig.Dependencies)
	}
	if orig.Result["ok"] != true {
		t.Errorf("clone shares result map: %v", orig.Result)
	}

	var nilTask *Task
	if nilTask.Clone() != nil {
		t.Error("Clone of nil task should be nil")
	}
}

func TestStateKind_Valid(t *testing.T) {
	for _, k := range []StateKind{StateKindBasic, StateKindHITL, StateKindMultiAgent, StateKindComplex} {
		if !k.Valid() {
			t.Errorf("StateKind(%q).Valid() = false", k)
		}
	}
	if StateKind("opaque").Valid() {
		t.Error("opaque is not a state kind name")
	}
}
