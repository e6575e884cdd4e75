// Package storage persists task records in SQLite so the schedule survives
// restarts. The scheduler is the source of truth while the process runs; this
// repository is only read back during startup restore.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chime/internal/rule"
	"chime/internal/task"
	"chime/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL DEFAULT '',
	payload         BLOB,
	scheduled_at    TEXT NOT NULL,
	recurrence      TEXT,
	priority        INTEGER NOT NULL DEFAULT 1,
	channels        TEXT NOT NULL,
	status          TEXT NOT NULL,
	execution_count INTEGER NOT NULL DEFAULT 0,
	retries         INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 0,
	timeout_ms      INTEGER NOT NULL DEFAULT 0,
	enabled         INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

type Repository struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, log logx.Logger) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Repository{db: db, log: log.With(logx.String("component", "storage"))}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) UpsertTask(ctx context.Context, t task.Task) error {
	recurrence, err := encodeRule(t.Recurrence)
	if err != nil {
		return err
	}
	channels, err := json.Marshal(t.Channels)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, kind, payload, scheduled_at, recurrence,
		                   priority, channels, status, execution_count, retries, max_retries,
		                   timeout_ms, enabled, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, kind=excluded.kind,
			payload=excluded.payload, scheduled_at=excluded.scheduled_at,
			recurrence=excluded.recurrence, priority=excluded.priority,
			channels=excluded.channels, status=excluded.status,
			execution_count=excluded.execution_count, retries=excluded.retries,
			max_retries=excluded.max_retries, timeout_ms=excluded.timeout_ms,
			enabled=excluded.enabled, updated_at=excluded.updated_at`,
		t.ID, t.Name, t.Description, t.Kind, []byte(t.Payload),
		t.ScheduledAt.UTC().Format(time.RFC3339Nano), recurrence,
		int(t.Priority), string(channels), string(t.Status),
		t.ExecutionCount, t.Retries, t.MaxRetries, t.Timeout.Milliseconds(),
		boolInt(t.Enabled),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (r *Repository) MarkStatus(ctx context.Context, id string, st task.Status, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(st), at.UTC().Format(time.RFC3339Nano), id)
	return err
}

func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// ListActive returns every non-terminal task, for restore on startup.
func (r *Repository) ListActive(ctx context.Context) ([]task.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, kind, payload, scheduled_at, recurrence,
		       priority, channels, status, execution_count, retries, max_retries,
		       timeout_ms, enabled, created_at, updated_at
		FROM tasks WHERE status IN (?, ?)`,
		string(task.StatusPending), string(task.StatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			r.log.Warn("skipping unreadable task row", logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTerminal deletes terminal rows older than the cutoff; completed and
// failed tasks are kept around for a while for post-mortem queries.
func (r *Repository) PruneTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(task.StatusCompleted), string(task.StatusFailed), string(task.StatusCancelled),
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanTask(rows *sql.Rows) (task.Task, error) {
	var (
		t           task.Task
		payload     []byte
		scheduledAt string
		recurrence  sql.NullString
		priority    int
		channels    string
		status      string
		timeoutMS   int64
		enabled     int
		createdAt   string
		updatedAt   string
	)
	err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Kind, &payload,
		&scheduledAt, &recurrence, &priority, &channels, &status,
		&t.ExecutionCount, &t.Retries, &t.MaxRetries, &timeoutMS, &enabled,
		&createdAt, &updatedAt)
	if err != nil {
		return task.Task{}, err
	}
	if len(payload) > 0 {
		t.Payload = json.RawMessage(payload)
	}
	if t.ScheduledAt, err = time.Parse(time.RFC3339Nano, scheduledAt); err != nil {
		return task.Task{}, fmt.Errorf("task %s: scheduled_at: %w", t.ID, err)
	}
	if recurrence.Valid && recurrence.String != "" {
		if err := json.Unmarshal([]byte(recurrence.String), &t.Recurrence); err != nil {
			return task.Task{}, fmt.Errorf("task %s: recurrence: %w", t.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(channels), &t.Channels); err != nil {
		return task.Task{}, fmt.Errorf("task %s: channels: %w", t.ID, err)
	}
	t.Priority = task.Priority(priority)
	t.Status = task.Status(status)
	t.Timeout = time.Duration(timeoutMS) * time.Millisecond
	t.Enabled = enabled != 0
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return task.Task{}, fmt.Errorf("task %s: created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return task.Task{}, fmt.Errorf("task %s: updated_at: %w", t.ID, err)
	}
	return t, nil
}

func encodeRule(r rule.Rule) (any, error) {
	if r.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
