package taskgraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/l3ocifer/ironclaw/internal/config"
	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// PostgresStore persists the task graph's tasks and event log in Postgres
// (or a Postgres-wire-compatible database such as CockroachDB).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool sized per cfg and verifies
// connectivity before returning.
func NewPostgresStore(dsn string, cfg config.TaskGraphConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, ironerr.New(ironerr.KindConfig, "taskgraph.NewPostgresStore", "dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.NewPostgresStore", err)
	}
	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 10))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 2))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), orDefaultDuration(cfg.ConnectTimeout, 5*time.Second))
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.NewPostgresStore", err)
	}
	return &PostgresStore{db: db}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Migrate creates the tasks and task_events tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
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
	labels JSONB,
	metadata JSONB,
	result TEXT,
	content_hash TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	due_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS task_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	task_id TEXT,
	edge_from TEXT,
	edge_to TEXT,
	edge_kind TEXT,
	status TEXT,
	timestamp TIMESTAMPTZ NOT NULL
);`)
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.Migrate", err)
	}
	return nil
}

// SaveTask upserts a task row.
func (s *PostgresStore) SaveTask(t *Task) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return ironerr.Wrap(ironerr.KindValidation, "taskgraph.SaveTask", err)
	}
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return ironerr.Wrap(ironerr.KindValidation, "taskgraph.SaveTask", err)
	}
	_, err = s.db.Exec(`
INSERT INTO tasks (id, user_id, created_by, assigned_to, title, description, status, priority, labels, metadata, result, content_hash, created_at, updated_at, started_at, completed_at, due_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	assigned_to = $4, status = $7, priority = $8, labels = $9, metadata = $10,
	result = $11, updated_at = $14, started_at = $15, completed_at = $16`,
		t.ID, t.UserID, t.CreatedBy, t.AssignedTo, t.Title, t.Description, t.Status, t.Priority,
		labels, metadata, t.Result, t.ContentHash, t.CreatedAt, t.UpdatedAt,
		t.StartedAt, t.CompletedAt, t.DueAt)
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.SaveTask", err)
	}
	return nil
}

// AppendEvent inserts one row into the append-only event log.
func (s *PostgresStore) AppendEvent(e Event) error {
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Kind, taskID, from, to, edgeKind, status, e.Timestamp)
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.AppendEvent", err)
	}
	return nil
}

// Events returns the full event log ordered by timestamp.
func (s *PostgresStore) Events() ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, kind, task_id, edge_from, edge_to, edge_kind, status, timestamp FROM task_events ORDER BY timestamp ASC`)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.Events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var taskID, from, to, edgeKind, status sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &taskID, &from, &to, &edgeKind, &status, &e.Timestamp); err != nil {
			return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.Events", err)
		}
		e.TaskID = taskID.String
		e.Status = Status(status.String)
		if from.Valid && to.Valid {
			e.Edge = &Edge{From: from.String, To: to.String, Kind: EdgeKind(edgeKind.String)}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.Events", fmt.Errorf("row iteration: %w", err))
	}
	return events, nil
}
