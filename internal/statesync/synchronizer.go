// Package statesync converts, validates, checksums and checkpoints workflow
// state exchanged with an external automation process.
package statesync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/keylock"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Annotation keys added to payloads returned by the synchronizer.
const (
	CheckpointInfoKey  = "__checkpoint_info"
	CheckpointErrorKey = "__checkpoint_error"
	MetadataKey        = "__metadata"
)

// CheckpointErrorCode identifies why checkpoint history was unavailable.
const CheckpointErrorCode = "store_unavailable"

const formatVersion = "1.0"

// Recorder receives synchronizer events.
type Recorder interface {
	SnapshotSaved(kind string)
	StateRejected(reason string)
	CheckpointSynced(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) SnapshotSaved(string)    {}
func (nopRecorder) StateRejected(string)    {}
func (nopRecorder) CheckpointSynced(string) {}

// Sync outcomes reported to the Recorder.
const (
	OutcomeMerged       = "merged"
	OutcomeNoCheckpoint = "no_checkpoint"
	OutcomeStoreError   = "store_error"
)

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Synchronizer) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// Synchronizer is the translation point between external payloads and
// checkpointed snapshots. Store calls block; callers in latency-sensitive
// loops should run them on their own goroutine.
type Synchronizer struct {
	store    state.SnapshotStore
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	pairs    keylock.Map
}

// New creates a Synchronizer backed by store.
func New(store state.SnapshotStore, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:    store,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "state_synchronizer"))
	return s
}

// ProcessExternalState converts and validates a raw payload from the external
// process. When threadID is non-empty the result is also persisted as a new
// snapshot; versions for one graph/thread pair are allocated under a lock, so
// concurrent callers never share a version. Bad input is rejected, never
// repaired. Every failure is returned as a *SerializationError; validation
// causes remain reachable with errors.As.
func (s *Synchronizer) ProcessExternalState(ctx context.Context, raw any, kind models.StateKind, graphID, threadID string) (map[string]any, error) {
	s.logger.Info("processing external state",
		zap.String("kind", string(kind)),
		zap.String("graph_id", graphID),
		zap.String("thread_id", threadID),
	)

	payload, err := s.process(ctx, raw, kind, graphID, threadID)
	if err != nil {
		s.logger.Error("failed to process external state", zap.Error(err))
		s.recorder.StateRejected(rejectionReason(err))
		if _, ok := err.(*SerializationError); ok {
			return nil, err
		}
		return nil, &SerializationError{Op: "process", Err: err}
	}
	return payload, nil
}

func (s *Synchronizer) process(ctx context.Context, raw any, kind models.StateKind, graphID, threadID string) (map[string]any, error) {
	payload, err := FromExternal(raw)
	if err != nil {
		return nil, err
	}

	if err := Validate(payload, kind); err != nil {
		return nil, err
	}

	if threadID == "" {
		return payload, nil
	}

	checksum, err := Checksum(payload)
	if err != nil {
		return nil, err
	}

	unlock := s.pairs.Lock(keylock.Pair(graphID, threadID))
	defer unlock()

	version := 1
	prior, err := s.store.ListSnapshots(ctx, state.SnapshotFilter{GraphID: graphID, ThreadID: threadID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("look up prior snapshot: %w", err)
	}
	if len(prior) > 0 {
		version = prior[0].Version + 1
	}

	now := s.now().UTC()
	snap := &models.Snapshot{
		Meta: models.SnapshotMeta{
			StateID:        newStateID(graphID, threadID, now),
			GraphID:        graphID,
			ThreadID:       threadID,
			Kind:           kind,
			Version:        version,
			CreatedAt:      now,
			LastModified:   now,
			Checksum:       checksum,
			ExternalOrigin: true,
		},
		State: payload,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Info("saved state snapshot",
		zap.String("state_id", snap.Meta.StateID),
		zap.Int("version", version),
		zap.String("checksum", checksum),
	)
	s.recorder.SnapshotSaved(string(kind))
	return payload, nil
}

// PrepareForExternal converts an internal payload for the external process,
// optionally adding a __metadata block.
func (s *Synchronizer) PrepareForExternal(payload any, includeMetadata bool) (map[string]any, error) {
	out, err := ToExternal(payload)
	if err != nil {
		s.logger.Error("failed to prepare state for external process", zap.Error(err))
		return nil, err
	}
	if includeMetadata {
		out[MetadataKey] = map[string]any{
			"processed_at":       s.now().UTC().Format(time.RFC3339Nano),
			"format_version":     formatVersion,
			"external_optimized": true,
		}
	}
	return out, nil
}

// SynchronizeCheckpoint merges current over the latest snapshot for the
// graph/thread pair. Keys in current win; keys only in the snapshot survive.
// The merge is shallow.
//
// Store failures do not fail the call: the result is a copy of current with a
// structured __checkpoint_error entry. current itself is never modified.
func (s *Synchronizer) SynchronizeCheckpoint(ctx context.Context, graphID, threadID string, current map[string]any) map[string]any {
	s.logger.Info("synchronizing checkpoint", zap.String("graph_id", graphID), zap.String("thread_id", threadID))
	syncedAt := s.now().UTC().Format(time.RFC3339Nano)

	metas, err := s.store.ListSnapshots(ctx, state.SnapshotFilter{GraphID: graphID, ThreadID: threadID, Limit: 1})
	if err != nil {
		return s.degraded(current, "list", err)
	}

	if len(metas) > 0 {
		latest := metas[0]
		snap, err := s.store.LoadSnapshot(ctx, latest.StateID)
		if err != nil {
			return s.degraded(current, "load", err)
		}
		if snap != nil {
			merged := shallowCopy(snap.State)
			for k, v := range current {
				merged[k] = v
			}
			merged[CheckpointInfoKey] = map[string]any{
				"last_snapshot_id":   latest.StateID,
				"last_snapshot_time": latest.LastModified.UTC().Format(time.RFC3339Nano),
				"synchronized_at":    syncedAt,
			}
			s.logger.Info("state synchronized with checkpoint", zap.String("state_id", latest.StateID))
			s.recorder.CheckpointSynced(OutcomeMerged)
			return merged
		}
	}

	out := shallowCopy(current)
	out[CheckpointInfoKey] = map[string]any{
		"synchronized_at": syncedAt,
		"notes":           "No previous checkpoint found",
	}
	s.recorder.CheckpointSynced(OutcomeNoCheckpoint)
	return out
}

func (s *Synchronizer) degraded(current map[string]any, op string, err error) map[string]any {
	s.logger.Warn("checkpoint synchronization failed", zap.String("operation", op), zap.Error(err))
	s.recorder.CheckpointSynced(OutcomeStoreError)

	out := shallowCopy(current)
	out[CheckpointErrorKey] = CheckpointError{
		Code:      CheckpointErrorCode,
		Operation: op,
		Message:   err.Error(),
	}.toMap()
	return out
}

// LoadSnapshot returns the snapshot with the given ID, or nil if absent.
func (s *Synchronizer) LoadSnapshot(ctx context.Context, stateID string) (*models.Snapshot, error) {
	snap, err := s.store.LoadSnapshot(ctx, stateID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		s.logger.Warn("state snapshot not found", zap.String("state_id", stateID))
	}
	return snap, nil
}

// ListSnapshots lists snapshot metadata, most recent first.
func (s *Synchronizer) ListSnapshots(ctx context.Context, graphID, threadID string) ([]models.SnapshotMeta, error) {
	return s.store.ListSnapshots(ctx, state.SnapshotFilter{GraphID: graphID, ThreadID: threadID})
}

// ValidateExternalState reports whether payload is a valid state of the named
// kind. Failures are logged, not returned.
func (s *Synchronizer) ValidateExternalState(payload any, kindName string) bool {
	kind, err := ParseStateKind(kindName)
	if err != nil {
		s.logger.Error("state validation failed", zap.Error(err))
		return false
	}
	m, err := FromExternal(payload)
	if err != nil {
		s.logger.Error("state validation failed", zap.Error(err))
		return false
	}
	if err := Validate(m, kind); err != nil {
		s.logger.Error("state validation failed", zap.Error(err))
		return false
	}
	return true
}

// CheckpointError is the structured form of __checkpoint_error.
type CheckpointError struct {
	Code      string `json:"code"`
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

func (e CheckpointError) toMap() map[string]any {
	return map[string]any{
		"code":      e.Code,
		"operation": e.Operation,
		"message":   e.Message,
	}
}

// CheckpointErrorFrom extracts the __checkpoint_error annotation, if any.
func CheckpointErrorFrom(payload map[string]any) (CheckpointError, bool) {
	raw, ok := payload[CheckpointErrorKey].(map[string]any)
	if !ok {
		return CheckpointError{}, false
	}
	code, _ := raw["code"].(string)
	op, _ := raw["operation"].(string)
	msg, _ := raw["message"].(string)
	return CheckpointError{Code: code, Operation: op, Message: msg}, true
}

// newStateID builds a timestamp-based ID. The random suffix keeps IDs unique
// when two snapshots for the same pair land in the same instant.
func newStateID(graphID, threadID string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", graphID, threadID, now.Format("20060102T150405.000000000"), uuid.NewString()[:8])
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func rejectionReason(err error) string {
	switch {
	case isValidation(err):
		return "validation"
	case isSerialization(err):
		return "serialization"
	default:
		return "store"
	}
}
