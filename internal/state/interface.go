// Package state provides persistence for relay: state snapshots and the
// coordinator's task lists.
package state

import (
	"context"
	"errors"
	"io"

	"github.com/ShayCichocki/relay/internal/coordinator"
	"github.com/ShayCichocki/relay/pkg/models"
)

// ErrClosed is returned by stores that have been closed.
var ErrClosed = errors.New("store is closed")

// SnapshotFilter narrows ListSnapshots. Empty fields match everything.
type SnapshotFilter struct {
	GraphID  string
	ThreadID string
	// Limit caps the number of results when positive.
	Limit int
}

// SnapshotStore persists immutable state snapshots keyed by state ID.
type SnapshotStore interface {
	io.Closer
	// SaveSnapshot inserts or replaces the snapshot with the same state ID
	// and sets snap.Meta.Seq.
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	// LoadSnapshot returns nil, nil when the state ID is unknown.
	LoadSnapshot(ctx context.Context, stateID string) (*models.Snapshot, error)
	// ListSnapshots returns metadata ordered by LastModified descending,
	// then Seq descending.
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.SnapshotMeta, error)
}

// CoordinatorStore persists a coordinator between process runs.
type CoordinatorStore interface {
	SaveCoordinator(ctx context.Context, s coordinator.State) error
	// LoadCoordinator returns a zero State when nothing has been saved.
	LoadCoordinator(ctx context.Context) (coordinator.State, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Compile-time verification that the backends implement the interfaces.
var (
	_ SnapshotStore    = (*DB)(nil)
	_ CoordinatorStore = (*DB)(nil)
	_ Migrator         = (*DB)(nil)
	_ SnapshotStore    = (*MemoryStore)(nil)
	_ SnapshotStore    = (*RedisStore)(nil)
	_ SnapshotStore    = (*PostgresStore)(nil)
)

// matches reports whether meta passes the filter's graph and thread checks.
func (f SnapshotFilter) matches(meta models.SnapshotMeta) bool {
	if f.GraphID != "" && meta.GraphID != f.GraphID {
		return false
	}
	if f.ThreadID != "" && meta.ThreadID != f.ThreadID {
		return false
	}
	return true
}
