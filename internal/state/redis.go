package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ShayCichocki/relay/pkg/models"
)

// DefaultRedisKeyPrefix namespaces relay keys in a shared Redis.
const DefaultRedisKeyPrefix = "relay:"

// RedisStore is a Redis-backed SnapshotStore for deployments where several
// relay processes share one snapshot history.
//
// Each snapshot is a JSON string key. Sorted sets scored by last-modified
// nanoseconds index snapshots per graph/thread pair and globally. A counter
// key supplies Seq.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore wraps an existing client. An empty keyPrefix uses
// DefaultRedisKeyPrefix.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "snapshot:"}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) dataKey(stateID string) string {
	return s.keyPrefix + "data:" + stateID
}

func (s *RedisStore) pairKey(graphID, threadID string) string {
	return s.keyPrefix + "pair:" + graphID + ":" + threadID
}

func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

func (s *RedisStore) seqKey() string {
	return s.keyPrefix + "seq"
}

// SaveSnapshot writes the snapshot and its index entries in one pipeline.
func (s *RedisStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("allocate snapshot seq: %w", mapRedisErr(err))
	}

	old, err := s.LoadSnapshot(ctx, snap.Meta.StateID)
	if err != nil {
		return err
	}

	stored := *snap
	stored.Meta.Seq = seq
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	id := snap.Meta.StateID
	score := float64(snap.Meta.LastModified.UnixNano())

	pipe := s.client.TxPipeline()
	if old != nil && (old.Meta.GraphID != snap.Meta.GraphID || old.Meta.ThreadID != snap.Meta.ThreadID) {
		pipe.ZRem(ctx, s.pairKey(old.Meta.GraphID, old.Meta.ThreadID), id)
	}
	pipe.Set(ctx, s.dataKey(id), data, 0)
	pipe.ZAdd(ctx, s.pairKey(snap.Meta.GraphID, snap.Meta.ThreadID), redis.Z{Score: score, Member: id})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot %s: %w", id, mapRedisErr(err))
	}

	snap.Meta.Seq = seq
	return nil
}

// LoadSnapshot retrieves a snapshot by state ID. Returns nil, nil if absent.
func (s *RedisStore) LoadSnapshot(ctx context.Context, stateID string) (*models.Snapshot, error) {
	data, err := s.client.Get(ctx, s.dataKey(stateID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", stateID, mapRedisErr(err))
	}

	var snap models.Snapshot
	if err := decodeJSON(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", stateID, err)
	}
	return &snap, nil
}

// ListSnapshots returns matching metadata, newest first. Scores are float64
// and lose sub-microsecond precision, so the final order is computed from
// the decoded metadata.
func (s *RedisStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.SnapshotMeta, error) {
	index := s.allKey()
	if filter.GraphID != "" && filter.ThreadID != "" {
		index = s.pairKey(filter.GraphID, filter.ThreadID)
	}

	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", mapRedisErr(err))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots: %w", mapRedisErr(err))
	}

	var metas []models.SnapshotMeta
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without data; skip it.
			continue
		}
		var snap models.Snapshot
		if err := decodeJSON([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot %s: %w", ids[i], err)
		}
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

func mapRedisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}
