package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShayCichocki/relay/pkg/models"
)

// PostgresStore is a PostgreSQL-backed SnapshotStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects to dsn, verifies the connection and ensures the
// snapshot table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// EnsureTable creates the state_snapshots table if it doesn't exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS state_snapshots (
			seq              BIGSERIAL PRIMARY KEY,
			state_id         TEXT NOT NULL UNIQUE,
			graph_id         TEXT NOT NULL,
			thread_id        TEXT NOT NULL,
			state_type       TEXT NOT NULL,
			version          INTEGER NOT NULL,
			state_data       JSONB NOT NULL,
			checksum         TEXT NOT NULL,
			external_origin  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at_ns    BIGINT NOT NULL,
			last_modified_ns BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create state_snapshots: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_snapshots_graph_thread ON state_snapshots(graph_id, thread_id)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_snapshots_last_modified ON state_snapshots(last_modified_ns DESC)`)
	return err
}

// SaveSnapshot upserts the snapshot. A replaced row gets a fresh seq.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	m := snap.Meta
	var seq int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO state_snapshots
			(state_id, graph_id, thread_id, state_type, version, state_data, checksum, external_origin, created_at_ns, last_modified_ns)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
		ON CONFLICT (state_id) DO UPDATE SET
			seq = DEFAULT,
			graph_id = EXCLUDED.graph_id,
			thread_id = EXCLUDED.thread_id,
			state_type = EXCLUDED.state_type,
			version = EXCLUDED.version,
			state_data = EXCLUDED.state_data,
			checksum = EXCLUDED.checksum,
			external_origin = EXCLUDED.external_origin,
			created_at_ns = EXCLUDED.created_at_ns,
			last_modified_ns = EXCLUDED.last_modified_ns
		RETURNING seq`,
		m.StateID, m.GraphID, m.ThreadID, string(m.Kind), m.Version, string(data), m.Checksum,
		m.ExternalOrigin, m.CreatedAt.UnixNano(), m.LastModified.UnixNano()).Scan(&seq)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", m.StateID, err)
	}
	snap.Meta.Seq = seq
	return nil
}

const pgSnapshotColumns = "seq, state_id, graph_id, thread_id, state_type, version, checksum, external_origin, created_at_ns, last_modified_ns"

// LoadSnapshot retrieves a snapshot by state ID. Returns nil, nil if absent.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, stateID string) (*models.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSnapshotColumns+`, state_data FROM state_snapshots WHERE state_id = $1`, stateID)

	var data []byte
	meta, err := scanPgMeta(row, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", stateID, err)
	}

	snap := &models.Snapshot{Meta: meta}
	if err := decodeJSON(data, &snap.State); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", stateID, err)
	}
	return snap, nil
}

// ListSnapshots returns matching metadata, newest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.SnapshotMeta, error) {
	query := `SELECT ` + pgSnapshotColumns + ` FROM state_snapshots
		WHERE ($1::text = '' OR graph_id = $1) AND ($2::text = '' OR thread_id = $2)
		ORDER BY last_modified_ns DESC, seq DESC`
	args := []any{filter.GraphID, filter.ThreadID}
	if filter.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var metas []models.SnapshotMeta
	for rows.Next() {
		m, err := scanPgMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func scanPgMeta(r pgx.Row, extra ...any) (models.SnapshotMeta, error) {
	var (
		m                   models.SnapshotMeta
		kind                string
		createdNs, modified int64
	)
	dest := []any{&m.Seq, &m.StateID, &m.GraphID, &m.ThreadID, &kind, &m.Version, &m.Checksum, &m.ExternalOrigin, &createdNs, &modified}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return m, err
	}
	m.Kind = models.StateKind(kind)
	m.CreatedAt = time.Unix(0, createdNs).UTC()
	m.LastModified = time.Unix(0, modified).UTC()
	return m, nil
}
