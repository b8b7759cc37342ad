package inbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShayCichocki/relay/internal/statesync"
	"github.com/ShayCichocki/relay/pkg/models"
)

// ErrInvalidEnvelope is returned for files that are not a usable envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the file format the external process writes into the inbox.
type Envelope struct {
	GraphID  string         `json:"graph_id"`
	ThreadID string         `json:"thread_id"`
	Kind     string         `json:"kind"`
	State    map[string]any `json:"state"`
}

// ParseEnvelope decodes and checks an envelope, returning its state kind.
// Numbers in the state stay json.Number so large integers keep their digits.
func ParseEnvelope(data []byte) (Envelope, models.StateKind, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return env, "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.GraphID == "" {
		return env, "", fmt.Errorf("%w: graph_id is required", ErrInvalidEnvelope)
	}
	if env.State == nil {
		return env, "", fmt.Errorf("%w: state is required", ErrInvalidEnvelope)
	}
	kind := models.StateKindComplex
	if env.Kind != "" {
		parsed, err := statesync.ParseStateKind(env.Kind)
		if err != nil {
			return env, "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		kind = parsed
	}
	return env, kind, nil
}
