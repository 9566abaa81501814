// Package taskgraph implements a DAG-structured task store: tasks are nodes,
// edges express "blocks" or "relates" relationships, and every mutation is
// appended to an event log so the graph's history can be replayed.
package taskgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task node.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether status is a final state the ready-set and
// blocker checks treat as "no longer in the way".
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// validTransition enforces the task state machine: pending → ready →
// in_progress → {completed, failed, cancelled}, with blocked reachable only
// from pending or ready. Forward jumps along the chain are legal (a single
// update may complete a task straight from pending); terminal states accept
// no further transitions. A same-state set is a no-op, not an error.
func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusBlocked:
		return from == StatusPending || from == StatusReady
	case StatusPending, StatusReady:
		return from == StatusPending || from == StatusBlocked
	case StatusInProgress:
		return from == StatusPending || from == StatusReady
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority ranks a task's urgency for scheduling and display ordering.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// EdgeKind relates two tasks in the graph.
type EdgeKind string

const (
	// EdgeBlocks means the target task cannot start until the source
	// completes: From is the blocker, To the dependent.
	EdgeBlocks EdgeKind = "blocks"
	// EdgeRelates is a non-ordering cross-reference between tasks.
	EdgeRelates EdgeKind = "relates"
)

// Task is a single node in the task graph.
type Task struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      Status            `json:"status"`
	Priority    Priority          `json:"priority,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	AgentID     string            `json:"agent_id,omitempty"`
	AssignedTo  string            `json:"assigned_to,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Result      string            `json:"result,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DueAt       *time.Time        `json:"due_at,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Edge is a directed relationship from one task to another.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// EventKind categorizes an entry in the task graph's append-only log.
type EventKind string

const (
	EventTaskCreated   EventKind = "task_created"
	EventTaskStatusSet EventKind = "task_status_set"
	EventEdgeAdded     EventKind = "edge_added"
	EventEdgeRemoved   EventKind = "edge_removed"
)

// Event is a single append-only log entry recording a graph mutation.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	TaskID    string    `json:"task_id,omitempty"`
	Edge      *Edge     `json:"edge,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ContentID derives a task id by hashing its title and creation time (to the
// nanosecond). The same title created at a different instant gets a
// different id; ContentHashOf is the time-independent fingerprint.
func ContentID(title string, createdAt time.Time) string {
	payload, _ := json.Marshal(struct {
		Title     string
		CreatedAt int64
	}{Title: title, CreatedAt: createdAt.UnixNano()})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// ContentHashOf fingerprints a task's substantive content, independent of
// its creation time, for dedup across exports and machines.
func ContentHashOf(title, description string) string {
	sum := sha256.Sum256([]byte(title + "\x00" + description))
	return hex.EncodeToString(sum[:])
}
