package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/relay/pkg/models"
)

type storeFactory func(t *testing.T) SnapshotStore

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	b := map[string]storeFactory{
		"memory": func(t *testing.T) SnapshotStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) SnapshotStore { return setupTestDB(t) },
		"redis": func(t *testing.T) SnapshotStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStore(client, "test:")
		},
	}
	if dsn := os.Getenv("RELAY_TEST_POSTGRES_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) SnapshotStore {
			ctx := context.Background()
			s, err := OpenPostgres(ctx, dsn)
			require.NoError(t, err)
			_, err = s.pool.Exec(ctx, "TRUNCATE state_snapshots")
			require.NoError(t, err)
			return s
		}
	}
	return b
}

var baseTime = time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

func newSnap(id, graph, thread string, version int, modified time.Time) *models.Snapshot {
	return &models.Snapshot{
		Meta: models.SnapshotMeta{
			StateID:        id,
			GraphID:        graph,
			ThreadID:       thread,
			Kind:           models.StateKindBasic,
			Version:        version,
			CreatedAt:      modified,
			LastModified:   modified,
			Checksum:       fmt.Sprintf("%016x", version),
			ExternalOrigin: true,
		},
		State: map[string]any{
			"messages": []any{"hello"},
			"counter":  json.Number(strconv.Itoa(version)),
		},
	}
}

func TestSnapshotStore_Contract(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("save and load", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				snap := newSnap("s1", "g", "t", 1, baseTime)
				require.NoError(t, store.SaveSnapshot(ctx, snap))
				assert.Positive(t, snap.Meta.Seq)

				got, err := store.LoadSnapshot(ctx, "s1")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, snap.Meta.StateID, got.Meta.StateID)
				assert.Equal(t, snap.Meta.GraphID, got.Meta.GraphID)
				assert.Equal(t, snap.Meta.Kind, got.Meta.Kind)
				assert.Equal(t, snap.Meta.Version, got.Meta.Version)
				assert.Equal(t, snap.Meta.Checksum, got.Meta.Checksum)
				assert.True(t, got.Meta.ExternalOrigin)
				assert.True(t, snap.Meta.LastModified.Equal(got.Meta.LastModified), "last modified must keep nanoseconds")
				assert.Equal(t, snap.State, got.State)
			})

			t.Run("large integers keep their digits", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				snap := newSnap("big", "g", "t", 1, baseTime)
				snap.State["id"] = json.Number("9007199254740993")
				snap.State["nested"] = map[string]any{"ids": []any{json.Number("18446744073709551615")}}
				require.NoError(t, store.SaveSnapshot(ctx, snap))

				got, err := store.LoadSnapshot(ctx, "big")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, json.Number("9007199254740993"), got.State["id"])
				assert.Equal(t, map[string]any{"ids": []any{json.Number("18446744073709551615")}}, got.State["nested"])
			})

			t.Run("load missing returns nil", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				got, err := store.LoadSnapshot(context.Background(), "missing")
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("list orders by last modified then seq", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				// a and b share a timestamp; b is saved later so it wins the tie.
				require.NoError(t, store.SaveSnapshot(ctx, newSnap("old", "g", "t", 1, baseTime.Add(-time.Minute))))
				require.NoError(t, store.SaveSnapshot(ctx, newSnap("a", "g", "t", 2, baseTime)))
				require.NoError(t, store.SaveSnapshot(ctx, newSnap("b", "g", "t", 3, baseTime)))

				metas, err := store.ListSnapshots(ctx, SnapshotFilter{GraphID: "g", ThreadID: "t"})
				require.NoError(t, err)
				require.Len(t, metas, 3)
				assert.Equal(t, []string{"b", "a", "old"}, ids(metas))

				latest, err := store.ListSnapshots(ctx, SnapshotFilter{GraphID: "g", ThreadID: "t", Limit: 1})
				require.NoError(t, err)
				require.Len(t, latest, 1)
				assert.Equal(t, "b", latest[0].StateID)
				assert.Equal(t, 3, latest[0].Version)
			})

			t.Run("filter", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				require.NoError(t, store.SaveSnapshot(ctx, newSnap("g1t1", "g1", "t1", 1, baseTime)))
				require.NoError(t, store.SaveSnapshot(ctx, newSnap("g1t2", "g1", "t2", 1, baseTime.Add(time.Second))))
				require.NoError(t, store.SaveSnapshot(ctx, newSnap("g2t1", "g2", "t1", 1, baseTime.Add(2*time.Second))))

				all, err := store.ListSnapshots(ctx, SnapshotFilter{})
				require.NoError(t, err)
				assert.Equal(t, []string{"g2t1", "g1t2", "g1t1"}, ids(all))

				byGraph, err := store.ListSnapshots(ctx, SnapshotFilter{GraphID: "g1"})
				require.NoError(t, err)
				assert.Equal(t, []string{"g1t2", "g1t1"}, ids(byGraph))

				byThread, err := store.ListSnapshots(ctx, SnapshotFilter{ThreadID: "t1"})
				require.NoError(t, err)
				assert.Equal(t, []string{"g2t1", "g1t1"}, ids(byThread))

				none, err := store.ListSnapshots(ctx, SnapshotFilter{GraphID: "nope"})
				require.NoError(t, err)
				assert.Empty(t, none)
			})

			t.Run("save replaces same state id", func(t *testing.T) {
				store := factory(t)
				defer store.Close()
				ctx := context.Background()

				first := newSnap("dup", "g", "t", 1, baseTime)
				require.NoError(t, store.SaveSnapshot(ctx, first))
				second := newSnap("dup", "g", "t", 2, baseTime)
				require.NoError(t, store.SaveSnapshot(ctx, second))
				assert.Greater(t, second.Meta.Seq, first.Meta.Seq)

				metas, err := store.ListSnapshots(ctx, SnapshotFilter{})
				require.NoError(t, err)
				require.Len(t, metas, 1)
				assert.Equal(t, 2, metas[0].Version)
			})

			t.Run("closed store errors", func(t *testing.T) {
				store := factory(t)
				require.NoError(t, store.Close())

				err := store.SaveSnapshot(context.Background(), newSnap("x", "g", "t", 1, baseTime))
				assert.Error(t, err)
			})
		})
	}
}

func TestMemoryStore_CopiesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := newSnap("s", "g", "t", 1, baseTime)
	require.NoError(t, store.SaveSnapshot(ctx, snap))
	snap.State["counter"] = json.Number("99")

	got, err := store.LoadSnapshot(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), got.State["counter"])

	got.State["counter"] = json.Number("42")
	again, err := store.LoadSnapshot(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), again.State["counter"])
}

func TestMemoryStore_ClosedReturnsErrClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.ListSnapshots(context.Background(), SnapshotFilter{})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestRedisStore_MovesPairIndexOnReplace(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "")
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, newSnap("s", "g1", "t", 1, baseTime)))
	require.NoError(t, store.SaveSnapshot(ctx, newSnap("s", "g2", "t", 2, baseTime)))

	old, err := store.ListSnapshots(ctx, SnapshotFilter{GraphID: "g1", ThreadID: "t"})
	require.NoError(t, err)
	assert.Empty(t, old)

	moved, err := store.ListSnapshots(ctx, SnapshotFilter{GraphID: "g2", ThreadID: "t"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, ids(moved))

	assert.True(t, mr.Exists("relay:snapshot:data:s"))
	assert.Equal(t, "2", mustGet(t, mr, "relay:snapshot:seq"))
}

func TestRedisStore_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := NewRedisStore(client, "")
	defer store.Close()

	mr.Close()

	_, err = store.ListSnapshots(context.Background(), SnapshotFilter{})
	assert.Error(t, err)
}

func ids(metas []models.SnapshotMeta) []string {
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.StateID
	}
	return out
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
