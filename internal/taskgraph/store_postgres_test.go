package taskgraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/l3ocifer/ironclaw/internal/config"
)

func setupMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: db}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	store, mock := setupMockPostgresStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tasks").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_Migrate_Error(t *testing.T) {
	store, mock := setupMockPostgresStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tasks").WillReturnError(errors.New("connection refused"))

	if err := store.Migrate(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestPostgresStore_SaveTask(t *testing.T) {
	store, mock := setupMockPostgresStore(t)
	now := time.Now()
	task := &Task{ID: "task-1", Title: "ship it", Status: StatusPending, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(task.ID, "", "", "", task.Title, "", string(task.Status), "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "", "", now, now, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.SaveTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_SaveTask_Error(t *testing.T) {
	store, mock := setupMockPostgresStore(t)
	task := &Task{ID: "task-1", Title: "ship it", Status: StatusPending}

	mock.ExpectExec("INSERT INTO tasks").WillReturnError(errors.New("database error"))

	if err := store.SaveTask(task); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestPostgresStore_AppendEvent(t *testing.T) {
	store, mock := setupMockPostgresStore(t)
	now := time.Now()
	evt := Event{ID: "evt-1", Kind: EventTaskCreated, TaskID: "task-1", Status: StatusPending, Timestamp: now}

	mock.ExpectExec("INSERT INTO task_events").
		WithArgs(evt.ID, string(evt.Kind), "task-1", nil, nil, nil, string(StatusPending), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.AppendEvent(evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_AppendEvent_WithEdge(t *testing.T) {
	store, mock := setupMockPostgresStore(t)
	now := time.Now()
	evt := Event{
		ID:        "evt-2",
		Kind:      EventEdgeAdded,
		Edge:      &Edge{From: "a", To: "b", Kind: EdgeBlocks},
		Timestamp: now,
	}

	mock.ExpectExec("INSERT INTO task_events").
		WithArgs(evt.ID, string(evt.Kind), nil, "a", "b", string(EdgeBlocks), nil, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.AppendEvent(evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_Events(t *testing.T) {
	store, mock := setupMockPostgresStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "kind", "task_id", "edge_from", "edge_to", "edge_kind", "status", "timestamp"}).
		AddRow("evt-1", string(EventTaskCreated), "task-1", nil, nil, nil, string(StatusPending), now).
		AddRow("evt-2", string(EventEdgeAdded), nil, "a", "b", string(EdgeBlocks), nil, now)

	mock.ExpectQuery("SELECT id, kind, task_id, edge_from, edge_to, edge_kind, status, timestamp FROM task_events").
		WillReturnRows(rows)

	events, err := store.Events()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].TaskID != "task-1" || events[0].Status != StatusPending {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Edge == nil || events[1].Edge.From != "a" || events[1].Edge.To != "b" {
		t.Errorf("unexpected second event edge: %+v", events[1].Edge)
	}
}

func TestPostgresStore_Events_QueryError(t *testing.T) {
	store, mock := setupMockPostgresStore(t)

	mock.ExpectQuery("SELECT id, kind, task_id, edge_from, edge_to, edge_kind, status, timestamp FROM task_events").
		WillReturnError(errors.New("database error"))

	if _, err := store.Events(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestNewPostgresStore_EmptyDSN(t *testing.T) {
	_, err := NewPostgresStore("", config.TaskGraphConfig{})
	if err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
