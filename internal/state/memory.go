package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/relay/pkg/models"
)

// MemoryStore keeps snapshots in process memory. Payloads are copied through
// JSON on the way in and out so callers cannot alias stored state.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.Snapshot
	seq       int64
	closed    bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*models.Snapshot)}
}

// SaveSnapshot stores a copy of snap and assigns its Seq.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *models.Snapshot) error {
	stored, err := copySnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.seq++
	stored.Meta.Seq = s.seq
	s.snapshots[stored.Meta.StateID] = stored
	snap.Meta.Seq = s.seq
	return nil
}

// LoadSnapshot returns a copy of the stored snapshot, or nil if absent.
func (s *MemoryStore) LoadSnapshot(_ context.Context, stateID string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	snap, ok := s.snapshots[stateID]
	if !ok {
		return nil, nil
	}
	return copySnapshot(snap)
}

// ListSnapshots returns matching metadata, newest first.
func (s *MemoryStore) ListSnapshots(_ context.Context, filter SnapshotFilter) ([]models.SnapshotMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var metas []models.SnapshotMeta
	for _, snap := range s.snapshots {
		if filter.matches(snap.Meta) {
			metas = append(metas, snap.Meta)
		}
	}
	sortMetas(metas)
	if filter.Limit > 0 && len(metas) > filter.Limit {
		metas = metas[:filter.Limit]
	}
	return metas, nil
}

// Close marks the store closed. Later calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sortMetas orders by LastModified descending, then Seq descending.
func sortMetas(metas []models.SnapshotMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].LastModified.Equal(metas[j].LastModified) {
			return metas[i].LastModified.After(metas[j].LastModified)
		}
		return metas[i].Seq > metas[j].Seq
	})
}

func copySnapshot(snap *models.Snapshot) (*models.Snapshot, error) {
	data, err := json.Marshal(snap.State)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	out := &models.Snapshot{Meta: snap.Meta}
	if err := decodeJSON(data, &out.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return out, nil
}
