package taskgraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// SQLiteStore persists the task graph in a single local SQLite file, for
// workspace-local deployments and integration tests that don't have a
// Postgres-wire-compatible database available.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the SQLite database at path and
// verifies connectivity before returning. A single connection is held open;
// SQLite itself serializes writers, so pooling beyond one writer buys
// nothing and risks "database is locked" errors under modernc.org/sqlite.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, ironerr.New(ironerr.KindConfig, "taskgraph.NewSQLiteStore", "path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.NewSQLiteStore", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.NewSQLiteStore", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Migrate creates the tasks and task_events tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	created_by TEXT,
	assigned_to TEXT,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	priority TEXT,
	labels TEXT,
	metadata TEXT,
	result TEXT,
	content_hash TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	due_at TEXT
);
CREATE TABLE IF NOT EXISTS task_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	task_id TEXT,
	edge_from TEXT,
	edge_to TEXT,
	edge_kind TEXT,
	status TEXT,
	timestamp TEXT NOT NULL
);`)
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.SQLiteStore.Migrate", err)
	}
	return nil
}

// SaveTask upserts a task row.
func (s *SQLiteStore) SaveTask(t *Task) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return ironerr.Wrap(ironerr.KindValidation, "taskgraph.SQLiteStore.SaveTask", err)
	}
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return ironerr.Wrap(ironerr.KindValidation, "taskgraph.SQLiteStore.SaveTask", err)
	}
	_, err = s.db.Exec(`
INSERT INTO tasks (id, user_id, created_by, assigned_to, title, description, status, priority, labels, metadata, result, content_hash, created_at, updated_at, started_at, completed_at, due_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	assigned_to = excluded.assigned_to,
	status = excluded.status,
	priority = excluded.priority,
	labels = excluded.labels,
	metadata = excluded.metadata,
	result = excluded.result,
	updated_at = excluded.updated_at,
	started_at = excluded.started_at,
	completed_at = excluded.completed_at`,
		t.ID, t.UserID, t.CreatedBy, t.AssignedTo, t.Title, t.Description, string(t.Status), string(t.Priority),
		string(labels), string(metadata), t.Result, t.ContentHash,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
		textTimePtr(t.StartedAt), textTimePtr(t.CompletedAt), textTimePtr(t.DueAt))
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.SQLiteStore.SaveTask", err)
	}
	return nil
}

// textTimePtr renders an optional timestamp as RFC3339Nano text, or SQL NULL
// when absent.
func textTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// AppendEvent inserts one row into the append-only event log.
func (s *SQLiteStore) AppendEvent(e Event) error {
	var from, to, edgeKind *string
	if e.Edge != nil {
		from, to, edgeKind = &e.Edge.From, &e.Edge.To, (*string)(&e.Edge.Kind)
	}
	var taskID, status *string
	if e.TaskID != "" {
		taskID = &e.TaskID
	}
	if e.Status != "" {
		status = (*string)(&e.Status)
	}
	_, err := s.db.Exec(`
INSERT INTO task_events (id, kind, task_id, edge_from, edge_to, edge_kind, status, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Kind), taskID, from, to, edgeKind, status, e.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.SQLiteStore.AppendEvent", err)
	}
	return nil
}

// Events returns the full event log ordered by timestamp.
func (s *SQLiteStore) Events() ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, kind, task_id, edge_from, edge_to, edge_kind, status, timestamp FROM task_events ORDER BY timestamp ASC`)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.SQLiteStore.Events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var taskID, from, to, edgeKind, status sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.Kind, &taskID, &from, &to, &edgeKind, &status, &ts); err != nil {
			return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.SQLiteStore.Events", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.SQLiteStore.Events", fmt.Errorf("parse timestamp: %w", err))
		}
		e.TaskID = taskID.String
		e.Status = Status(status.String)
		if from.Valid && to.Valid {
			e.Edge = &Edge{From: from.String, To: to.String, Kind: EdgeKind(edgeKind.String)}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.SQLiteStore.Events", fmt.Errorf("row iteration: %w", err))
	}
	return events, nil
}
