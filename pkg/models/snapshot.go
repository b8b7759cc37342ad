package models

import "time"

// StateKind selects the schema a workflow state payload is validated against.
type StateKind string

const (
	// StateKindBasic requires messages and counter.
	StateKindBasic StateKind = "basic"
	// StateKindHITL is a human-in-the-loop state with an approval flag.
	StateKindHITL StateKind = "hitl"
	// StateKindMultiAgent carries an agent roster and the current agent.
	StateKindMultiAgent StateKind = "multi_agent"
	// StateKindComplex is unconstrained.
	StateKindComplex StateKind = "complex"
)

// Valid returns true if the kind is a known value.
func (k StateKind) Valid() bool {
	switch k {
	case StateKindBasic, StateKindHITL, StateKindMultiAgent, StateKindComplex:
		return true
	default:
		return false
	}
}

// SnapshotMeta describes a stored state snapshot without its payload.
type SnapshotMeta struct {
	StateID      string    `json:"state_id"`
	GraphID      string    `json:"graph_id"`
	ThreadID     string    `json:"thread_id"`
	Kind         StateKind `json:"state_type"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	Checksum     string    `json:"checksum"`
	// ExternalOrigin marks snapshots that arrived from the external process.
	ExternalOrigin bool `json:"external_origin"`
	// Seq is assigned by the store on insert and breaks LastModified ties.
	Seq int64 `json:"seq"`
}

// Snapshot is an immutable capture of workflow state for one graph/thread pair.
type Snapshot struct {
	Meta  SnapshotMeta   `json:"metadata"`
	State map[string]any `json:"state"`
}
