package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ShayCichocki/relay/internal/coordinator"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Task list names stored in the tasks.list column.
const (
	listActive    = "active"
	listCompleted = "completed"
	listFailed    = "failed"
)

const (
	metaName            = "name"
	metaTaskCounter     = "task_counter"
	metaLastHealthCheck = "last_health_check"
)

// SaveCoordinator replaces the stored coordinator with s in one transaction.
func (db *DB) SaveCoordinator(ctx context.Context, s coordinator.State) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}

		lists := []struct {
			name  string
			tasks []*models.Task
		}{
			{listActive, s.ActiveTasks},
			{listCompleted, s.CompletedTasks},
			{listFailed, s.FailedTasks},
		}
		for _, l := range lists {
			for pos, t := range l.tasks {
				if err := insertTask(ctx, tx, l.name, pos, t); err != nil {
					return err
				}
			}
		}

		meta := map[string]string{
			metaName:            s.Name,
			metaTaskCounter:     strconv.Itoa(s.TaskCounter),
			metaLastHealthCheck: formatTime(s.LastHealthCheck),
		}
		for k, v := range meta {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO coordinator_meta (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, k, v); err != nil {
				return fmt.Errorf("save coordinator %s: %w", k, err)
			}
		}
		return nil
	})
}

func insertTask(ctx context.Context, tx *sql.Tx, list string, pos int, t *models.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, list, position, kind, status, priority, assigned_team, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, list, pos, string(t.Kind), string(t.Status), t.Priority, nullString(string(t.AssignedTeam)), string(data), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// LoadCoordinator reads the stored coordinator. A database that has never
// been saved to yields a zero State.
func (db *DB) LoadCoordinator(ctx context.Context) (coordinator.State, error) {
	var s coordinator.State

	rows, err := db.QueryContext(ctx, "SELECT key, value FROM coordinator_meta")
	if err != nil {
		return s, fmt.Errorf("load coordinator meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return s, fmt.Errorf("scan coordinator meta: %w", err)
		}
		switch k {
		case metaName:
			s.Name = v
		case metaTaskCounter:
			n, err := strconv.Atoi(v)
			if err != nil {
				rows.Close()
				return s, fmt.Errorf("parse task counter %q: %w", v, err)
			}
			s.TaskCounter = n
		case metaLastHealthCheck:
			if t, err := parseTime(v); err == nil && !t.Equal(time.Time{}) {
				s.LastHealthCheck = t
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s, err
	}

	taskRows, err := db.QueryContext(ctx, "SELECT list, data FROM tasks ORDER BY list, position")
	if err != nil {
		return s, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var list, data string
		if err := taskRows.Scan(&list, &data); err != nil {
			return s, fmt.Errorf("scan task: %w", err)
		}
		var t models.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return s, fmt.Errorf("unmarshal task: %w", err)
		}
		switch list {
		case listActive:
			s.ActiveTasks = append(s.ActiveTasks, &t)
		case listCompleted:
			s.CompletedTasks = append(s.CompletedTasks, &t)
		case listFailed:
			s.FailedTasks = append(s.FailedTasks, &t)
		default:
			return s, fmt.Errorf("task %s stored in unknown list %q", t.ID, list)
		}
	}
	if err := taskRows.Err(); err != nil {
		return s, err
	}

	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
