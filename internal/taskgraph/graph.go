package taskgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// Graph is an in-memory, mutex-guarded view of the task DAG backed by a
// Store for durability. Mutations append to the store's event log before
// updating in-memory state, so a crash mid-write leaves the log as the
// source of truth.
type Graph struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	outEdges map[string][]Edge // from -> edges
	inEdges  map[string][]Edge // to -> edges
	store    Store
}

// Store persists tasks, edges, and the event log.
type Store interface {
	AppendEvent(Event) error
	SaveTask(*Task) error
	Events() ([]Event, error)
}

// NewGraph constructs an empty graph backed by store.
func NewGraph(store Store) *Graph {
	return &Graph{
		tasks:    make(map[string]*Task),
		outEdges: make(map[string][]Edge),
		inEdges:  make(map[string][]Edge),
		store:    store,
	}
}

// CreateTask adds a new task node with a content-addressable id.
func (g *Graph) CreateTask(title string, metadata map[string]string) (*Task, error) {
	return g.CreateTaskScoped(TaskInput{Title: title, Metadata: metadata})
}

// TaskInput carries the optional scoping and classification fields a
// created task may be created with.
type TaskInput struct {
	Title       string
	Description string
	Priority    Priority
	UserID      string
	AgentID     string
	AssignedTo  string
	CreatedBy   string
	Labels      []string
	DueAt       *time.Time
	Metadata    map[string]string
}

// CreateTaskScoped adds a new task node carrying the full scoping fields a
// multi-user, multi-agent deployment needs for ReadySetFor filtering.
func (g *Graph) CreateTaskScoped(in TaskInput) (*Task, error) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ContentID(in.Title, now)
	if _, exists := g.tasks[id]; exists {
		return g.tasks[id], nil
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	task := &Task{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Status:      StatusPending,
		Priority:    priority,
		UserID:      in.UserID,
		AgentID:     in.AgentID,
		AssignedTo:  in.AssignedTo,
		CreatedBy:   in.CreatedBy,
		Labels:      in.Labels,
		DueAt:       in.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		ContentHash: ContentHashOf(in.Title, in.Description),
		Metadata:    in.Metadata,
	}
	if err := g.store.SaveTask(task); err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.CreateTask", err)
	}
	if err := g.store.AppendEvent(Event{ID: id + ":create", Kind: EventTaskCreated, TaskID: id, Timestamp: now}); err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.CreateTask", err)
	}
	g.tasks[id] = task
	return task, nil
}

// Get returns the task with the given id.
func (g *Graph) Get(id string) (*Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	task, ok := g.tasks[id]
	if !ok {
		return nil, ironerr.New(ironerr.KindNotFound, "taskgraph.Get", fmt.Sprintf("task %q not found", id))
	}
	return task, nil
}

// SetStatus updates a task's status and records the transition. Transitions
// must follow the task state machine; an illegal one (any move out of a
// terminal state, blocked entered from in_progress) is rejected before
// anything is written.
func (g *Graph) SetStatus(id string, status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	task, ok := g.tasks[id]
	if !ok {
		return ironerr.New(ironerr.KindNotFound, "taskgraph.SetStatus", fmt.Sprintf("task %q not found", id))
	}
	if task.Status == status {
		return nil
	}
	if !validTransition(task.Status, status) {
		return ironerr.New(ironerr.KindValidation, "taskgraph.SetStatus", fmt.Sprintf("illegal transition %s -> %s for task %q", task.Status, status, id))
	}
	now := time.Now()
	if err := g.store.AppendEvent(Event{ID: fmt.Sprintf("%s:status:%d", id, now.UnixNano()), Kind: EventTaskStatusSet, TaskID: id, Status: status, Timestamp: now}); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.SetStatus", err)
	}
	task.Status = status
	task.UpdatedAt = now
	if status == StatusInProgress && task.StartedAt == nil {
		started := now
		task.StartedAt = &started
	}
	if status.Terminal() || status == StatusFailed {
		completed := now
		task.CompletedAt = &completed
	}
	return g.store.SaveTask(task)
}

// SetResult records a task's outcome text.
func (g *Graph) SetResult(id, result string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	task, ok := g.tasks[id]
	if !ok {
		return ironerr.New(ironerr.KindNotFound, "taskgraph.SetResult", fmt.Sprintf("task %q not found", id))
	}
	task.Result = result
	task.UpdatedAt = time.Now()
	return g.store.SaveTask(task)
}

// AddEdge adds a directed edge, rejecting it if it would introduce a cycle
// among "blocks" edges.
func (g *Graph) AddEdge(from, to string, kind EdgeKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tasks[from]; !ok {
		return ironerr.New(ironerr.KindNotFound, "taskgraph.AddEdge", fmt.Sprintf("task %q not found", from))
	}
	if _, ok := g.tasks[to]; !ok {
		return ironerr.New(ironerr.KindNotFound, "taskgraph.AddEdge", fmt.Sprintf("task %q not found", to))
	}

	edge := Edge{From: from, To: to, Kind: kind}
	if kind == EdgeBlocks {
		if g.wouldCycleLocked(from, to) {
			return ironerr.New(ironerr.KindCycle, "taskgraph.AddEdge", fmt.Sprintf("edge %s->%s would create a cycle", from, to))
		}
	}

	now := time.Now()
	if err := g.store.AppendEvent(Event{ID: fmt.Sprintf("%s-%s:%s:%d", from, to, kind, now.UnixNano()), Kind: EventEdgeAdded, Edge: &edge, Timestamp: now}); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "taskgraph.AddEdge", err)
	}
	g.outEdges[from] = append(g.outEdges[from], edge)
	g.inEdges[to] = append(g.inEdges[to], edge)
	return nil
}

// wouldCycleLocked reports whether adding edge from->to would create a cycle
// in the "blocks" subgraph, using iterative DFS from `to` looking for `from`.
func (g *Graph) wouldCycleLocked(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{to}
	for len(stack) > 0 {
		n := len(stack) - 1
		node := stack[n]
		stack = stack[:n]
		if node == from {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		for _, edge := range g.outEdges[node] {
			if edge.Kind == EdgeBlocks {
				stack = append(stack, edge.To)
			}
		}
	}
	return false
}

// ReadySet returns the ids of all pending tasks with no incomplete "blocks"
// dependency, sorted for deterministic output.
func (g *Graph) ReadySet() []string {
	return g.ReadySetFor("", "")
}

// ReadySetFor scopes ReadySet to tasks visible to userID/agentID: a task
// qualifies if userID is empty or matches, and if agentID is empty or
// matches either AgentID or AssignedTo. Passing both empty reproduces
// ReadySet's unscoped behavior.
func (g *Graph) ReadySetFor(userID, agentID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.tasks {
		if task.Status != StatusPending && task.Status != StatusReady {
			continue
		}
		if userID != "" && task.UserID != userID {
			continue
		}
		if agentID != "" && task.AgentID != agentID && task.AssignedTo != agentID {
			continue
		}
		blocked := false
		for _, edge := range g.inEdges[id] {
			if edge.Kind != EdgeBlocks {
				continue
			}
			blocker, ok := g.tasks[edge.From]
			if ok && !blocker.Status.Terminal() {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// Blockers returns the task ids that directly block id.
func (g *Graph) Blockers(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, edge := range g.inEdges[id] {
		if edge.Kind == EdgeBlocks {
			out = append(out, edge.From)
		}
	}
	sort.Strings(out)
	return out
}

// ExportFilter narrows which tasks Export includes.
type ExportFilter struct {
	UserID string
	Status Status // empty means any status
}

// exportLine is the stable JSONL interchange shape: one task per line with
// its direct blockers and full event history inlined, so an export is
// self-contained across machines.
type exportLine struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Events      []Event    `json:"events,omitempty"`
}

// Export serializes every task matching filter as newline-delimited JSON
// (JSONL), one task object per line with depends_on and events inlined,
// sorted by id for reproducible output.
func (g *Graph) Export(filter ExportFilter) ([]byte, error) {
	events, err := g.store.Events()
	if err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.Export", err)
	}
	byTask := make(map[string][]Event)
	for _, e := range events {
		taskID := e.TaskID
		if taskID == "" && e.Edge != nil {
			taskID = e.Edge.To
		}
		if taskID != "" {
			byTask[taskID] = append(byTask[taskID], e)
		}
	}
	for _, evs := range byTask {
		sort.Slice(evs, func(i, j int) bool {
			if evs[i].Timestamp.Equal(evs[j].Timestamp) {
				return evs[i].ID < evs[j].ID
			}
			return evs[i].Timestamp.Before(evs[j].Timestamp)
		})
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf []byte
	for _, id := range ids {
		task := g.tasks[id]
		if filter.UserID != "" && task.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		var dependsOn []string
		for _, edge := range g.inEdges[id] {
			if edge.Kind == EdgeBlocks {
				dependsOn = append(dependsOn, edge.From)
			}
		}
		sort.Strings(dependsOn)
		line, err := json.Marshal(exportLine{
			ID:          task.ID,
			UserID:      task.UserID,
			Title:       task.Title,
			Description: task.Description,
			Status:      task.Status,
			Priority:    task.Priority,
			Labels:      task.Labels,
			CreatedAt:   task.CreatedAt,
			CompletedAt: task.CompletedAt,
			DependsOn:   dependsOn,
			Events:      byTask[id],
		})
		if err != nil {
			return nil, ironerr.Wrap(ironerr.KindIO, "taskgraph.Export", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// Import rebuilds tasks, edges, and event history from a JSONL export,
// merging into the receiver. Existing tasks with the same id are replaced;
// events are appended through the store's own id-level dedup, so importing
// the same export twice converges instead of duplicating history. Export
// followed by Import on an empty graph yields the same task set and event
// history.
func (g *Graph) Import(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var edges []Edge
	seenEdge := make(map[string]bool)

	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var line exportLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return ironerr.Wrap(ironerr.KindValidation, "taskgraph.Import", err)
		}
		task := &Task{
			ID:          line.ID,
			UserID:      line.UserID,
			Title:       line.Title,
			Description: line.Description,
			Status:      line.Status,
			Priority:    line.Priority,
			Labels:      line.Labels,
			CreatedAt:   line.CreatedAt,
			UpdatedAt:   line.CreatedAt,
			CompletedAt: line.CompletedAt,
			ContentHash: ContentHashOf(line.Title, line.Description),
		}
		if err := g.store.SaveTask(task); err != nil {
			return ironerr.Wrap(ironerr.KindIO, "taskgraph.Import", err)
		}
		g.tasks[task.ID] = task

		for _, e := range line.Events {
			if err := g.store.AppendEvent(e); err != nil {
				return ironerr.Wrap(ironerr.KindIO, "taskgraph.Import", err)
			}
			if e.Kind == EventEdgeAdded && e.Edge != nil {
				key := e.Edge.From + "\x00" + e.Edge.To + "\x00" + string(e.Edge.Kind)
				if !seenEdge[key] {
					seenEdge[key] = true
					edges = append(edges, *e.Edge)
				}
			}
		}
		for _, dep := range line.DependsOn {
			key := dep + "\x00" + line.ID + "\x00" + string(EdgeBlocks)
			if !seenEdge[key] {
				seenEdge[key] = true
				edges = append(edges, Edge{From: dep, To: line.ID, Kind: EdgeBlocks})
			}
		}
	}

	for _, edge := range edges {
		exists := false
		for _, have := range g.outEdges[edge.From] {
			if have == edge {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		g.outEdges[edge.From] = append(g.outEdges[edge.From], edge)
		g.inEdges[edge.To] = append(g.inEdges[edge.To], edge)
	}
	return nil
}

// ArchiveCompleted removes every completed or cancelled task last updated
// before cutoff from the in-memory graph (and its edges), returning a
// markdown summary of the archived tasks for the caller to persist (the
// workspace, a memory note) alongside the raw tasks. The event log is
// untouched: history remains replayable from the store even after archival.
func (g *Graph) ArchiveCompleted(cutoff time.Time) (string, []*Task) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var archived []*Task
	for id, task := range g.tasks {
		if !task.Status.Terminal() || task.UpdatedAt.After(cutoff) {
			continue
		}
		archived = append(archived, task)
		delete(g.tasks, id)
		delete(g.outEdges, id)
		delete(g.inEdges, id)
	}
	for node, edges := range g.outEdges {
		filtered := edges[:0]
		for _, e := range edges {
			if g.tasks[e.To] != nil {
				filtered = append(filtered, e)
			}
		}
		g.outEdges[node] = filtered
	}
	for node, edges := range g.inEdges {
		filtered := edges[:0]
		for _, e := range edges {
			if g.tasks[e.From] != nil {
				filtered = append(filtered, e)
			}
		}
		g.inEdges[node] = filtered
	}
	sort.Slice(archived, func(i, j int) bool { return archived[i].ID < archived[j].ID })
	return formatArchiveSummary(archived, cutoff), archived
}

// formatArchiveSummary renders the archived tasks as the markdown block
// ArchiveCompleted hands back for workspace persistence.
func formatArchiveSummary(tasks []*Task, cutoff time.Time) string {
	if len(tasks) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Archived tasks (completed before %s)\n\n", cutoff.UTC().Format("2006-01-02"))
	for _, t := range tasks {
		fmt.Fprintf(&b, "- **%s** — %s", t.Title, t.Status)
		if t.CompletedAt != nil {
			fmt.Fprintf(&b, " on %s", t.CompletedAt.UTC().Format("2006-01-02"))
		}
		if t.Result != "" {
			fmt.Fprintf(&b, ": %s", t.Result)
		}
		b.WriteString("\n")
	}
	return b.String()
}
