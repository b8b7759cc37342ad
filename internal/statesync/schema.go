package statesync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/relay/pkg/models"
)

// Well-known payload keys.
const (
	FieldMessages       = "messages"
	FieldCounter        = "counter"
	FieldApprovalNeeded = "approval_needed"
	FieldApproved       = "approved"
	FieldAgents         = "agents"
	FieldCurrentAgent   = "current_agent"
)

var requiredFields = map[models.StateKind][]string{
	models.StateKindBasic:      {FieldMessages, FieldCounter},
	models.StateKindHITL:       {FieldMessages, FieldCounter, FieldApprovalNeeded},
	models.StateKindMultiAgent: {FieldMessages, FieldAgents, FieldCurrentAgent},
}

// State is a payload decoded into its per-kind variant.
type State interface {
	Kind() models.StateKind
	// Payload returns the full payload, including optional keys.
	Payload() map[string]any
}

// BasicState carries a message list and a counter.
type BasicState struct {
	Messages []any
	Counter  float64
	payload  map[string]any
}

func (s *BasicState) Kind() models.StateKind  { return models.StateKindBasic }
func (s *BasicState) Payload() map[string]any { return s.payload }

// HITLState is a human-in-the-loop state.
type HITLState struct {
	Messages       []any
	Counter        float64
	ApprovalNeeded bool
	// Approved is nil until a decision is recorded.
	Approved *bool
	payload  map[string]any
}

func (s *HITLState) Kind() models.StateKind  { return models.StateKindHITL }
func (s *HITLState) Payload() map[string]any { return s.payload }

// MultiAgentState carries an agent roster and the agent currently acting.
type MultiAgentState struct {
	Messages     []any
	Agents       any
	CurrentAgent any
	payload      map[string]any
}

func (s *MultiAgentState) Kind() models.StateKind  { return models.StateKindMultiAgent }
func (s *MultiAgentState) Payload() map[string]any { return s.payload }

// OpaqueState is an unconstrained payload.
type OpaqueState struct {
	payload map[string]any
}

func (s *OpaqueState) Kind() models.StateKind  { return models.StateKindComplex }
func (s *OpaqueState) Payload() map[string]any { return s.payload }

// ParseStateKind converts a kind name into a StateKind.
func ParseStateKind(name string) (models.StateKind, error) {
	k := models.StateKind(strings.ToLower(strings.TrimSpace(name)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown state kind %q", name)
	}
	return k, nil
}

// Decode validates payload against the schema for kind and returns the typed
// variant. Complex payloads skip every check.
func Decode(kind models.StateKind, payload map[string]any) (State, error) {
	if kind == models.StateKindComplex {
		return &OpaqueState{payload: payload}, nil
	}

	required, ok := requiredFields[kind]
	if !ok {
		return nil, &ValidationError{Field: "", Reason: fmt.Sprintf("unknown state kind %q", kind)}
	}

	var missing []string
	for _, field := range required {
		if _, present := payload[field]; !present {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{
			Field:  missing[0],
			Reason: fmt.Sprintf("missing required fields: [%s]", strings.Join(missing, ", ")),
		}
	}

	f, err := checkFieldTypes(payload)
	if err != nil {
		return nil, err
	}

	switch kind {
	case models.StateKindBasic:
		return &BasicState{Messages: f.messages, Counter: f.counter, payload: payload}, nil
	case models.StateKindHITL:
		return &HITLState{
			Messages:       f.messages,
			Counter:        f.counter,
			ApprovalNeeded: f.approvalNeeded,
			Approved:       f.approved,
			payload:        payload,
		}, nil
	default:
		return &MultiAgentState{
			Messages:     f.messages,
			Agents:       payload[FieldAgents],
			CurrentAgent: payload[FieldCurrentAgent],
			payload:      payload,
		}, nil
	}
}

// Validate reports whether payload satisfies the schema for kind.
func Validate(payload map[string]any, kind models.StateKind) error {
	_, err := Decode(kind, payload)
	return err
}

type knownFields struct {
	messages       []any
	counter        float64
	approvalNeeded bool
	approved       *bool
}

// checkFieldTypes enforces type constraints on whichever well-known keys are
// present, independent of which keys the schema requires.
func checkFieldTypes(payload map[string]any) (knownFields, error) {
	var f knownFields

	if v, ok := payload[FieldMessages]; ok {
		list, isList := asList(v)
		if !isList {
			return f, &ValidationError{Field: FieldMessages, Reason: "'messages' field must be a list"}
		}
		f.messages = list
	}

	if v, ok := payload[FieldCounter]; ok {
		n, isNum := asNumber(v)
		if !isNum {
			return f, &ValidationError{Field: FieldCounter, Reason: "'counter' field must be numeric"}
		}
		f.counter = n
	}

	if v, ok := payload[FieldApprovalNeeded]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return f, &ValidationError{Field: FieldApprovalNeeded, Reason: "'approval_needed' field must be boolean"}
		}
		f.approvalNeeded = b
	}

	if v, ok := payload[FieldApproved]; ok && v != nil {
		b, isBool := v.(bool)
		if !isBool {
			return f, &ValidationError{Field: FieldApproved, Reason: "'approved' field must be boolean or null"}
		}
		f.approved = &b
	}

	return f, nil
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []string:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	default:
		return nil, false
	}
}

// asNumber accepts every Go numeric type and json.Number. Booleans are not numbers.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
