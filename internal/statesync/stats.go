package statesync

import (
	"context"
	"time"

	"github.com/ShayCichocki/relay/internal/state"
)

// Stats summarizes the snapshot store.
type Stats struct {
	TotalSnapshots int            `json:"total_snapshots" yaml:"total_snapshots"`
	UniqueGraphs   int            `json:"unique_graphs" yaml:"unique_graphs"`
	UniqueThreads  int            `json:"unique_threads" yaml:"unique_threads"`
	ByKind         map[string]int `json:"state_types" yaml:"state_types"`
	// LastActivity is nil when the store is empty.
	LastActivity *time.Time `json:"last_activity,omitempty" yaml:"last_activity,omitempty"`
}

// Statistics scans snapshot metadata and aggregates it.
func (s *Synchronizer) Statistics(ctx context.Context) (Stats, error) {
	metas, err := s.store.ListSnapshots(ctx, state.SnapshotFilter{})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByKind: make(map[string]int)}
	graphs := make(map[string]struct{})
	threads := make(map[string]struct{})
	for _, m := range metas {
		stats.TotalSnapshots++
		graphs[m.GraphID] = struct{}{}
		threads[m.ThreadID] = struct{}{}
		stats.ByKind[string(m.Kind)]++
		if stats.LastActivity == nil || m.LastModified.After(*stats.LastActivity) {
			t := m.LastModified
			stats.LastActivity = &t
		}
	}
	stats.UniqueGraphs = len(graphs)
	stats.UniqueThreads = len(threads)
	return stats, nil
}
