package state

import (
	"context"
	"database/sql"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/relay/pkg/models"
)

// SaveSnapshot inserts the snapshot, replacing any row with the same state ID.
// A replaced row gets a fresh seq.
func (db *DB) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	m := snap.Meta
	res, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO state_snapshots
			(state_id, graph_id, thread_id, state_type, version, state_data, checksum, external_origin, created_at, last_modified_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.StateID, m.GraphID, m.ThreadID, string(m.Kind), m.Version, string(data), m.Checksum,
		boolToInt(m.ExternalOrigin), formatTime(m.CreatedAt), m.LastModified.UnixNano())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", m.StateID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read snapshot seq: %w", err)
	}
	snap.Meta.Seq = seq
	return nil
}

// LoadSnapshot retrieves a snapshot by state ID. Returns nil, nil if absent.
func (db *DB) LoadSnapshot(ctx context.Context, stateID string) (*models.Snapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	row := db.conn.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`, state_data
		FROM state_snapshots WHERE state_id = ?
	`, stateID)

	var data string
	meta, err := scanMeta(row, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", stateID, err)
	}

	snap := &models.Snapshot{Meta: meta}
	if err := decodeJSON([]byte(data), &snap.State); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", stateID, err)
	}
	return snap, nil
}

// ListSnapshots returns snapshot metadata, newest first.
func (db *DB) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.SnapshotMeta, error) {
	var (
		where []string
		args  []any
	)
	if filter.GraphID != "" {
		where = append(where, "graph_id = ?")
		args = append(args, filter.GraphID)
	}
	if filter.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, filter.ThreadID)
	}

	query := "SELECT " + snapshotColumns + " FROM state_snapshots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_modified_ns DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var metas []models.SnapshotMeta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

const snapshotColumns = "seq, state_id, graph_id, thread_id, state_type, version, checksum, external_origin, created_at, last_modified_ns"

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMeta scans snapshotColumns followed by any extra destinations.
func scanMeta(r rowScanner, extra ...any) (models.SnapshotMeta, error) {
	var (
		m         models.SnapshotMeta
		kind      string
		external  int
		createdAt string
		modified  int64
	)
	dest := []any{&m.Seq, &m.StateID, &m.GraphID, &m.ThreadID, &kind, &m.Version, &m.Checksum, &external, &createdAt, &modified}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return m, err
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return m, fmt.Errorf("parse created_at for %s: %w", m.StateID, err)
	}
	m.Kind = models.StateKind(kind)
	m.ExternalOrigin = external != 0
	m.CreatedAt = created
	m.LastModified = time.Unix(0, modified).UTC()
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decodeJSON unmarshals stored state with numbers kept as json.Number, so
// integers beyond 2^53 survive a round trip.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
