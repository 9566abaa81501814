// Package builtintools implements the protected, native tool operations
// the registry (internal/registry) never lets a sandboxed or external
// module shadow: workspace memory search/read/write and task-graph and
// learning CRUD. These run natively in the host process rather than
// through internal/sandbox: a handful of trusted Go-function tools
// alongside the sandboxed and external ones.
package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/learning"
	"github.com/l3ocifer/ironclaw/internal/taskgraph"
	"github.com/l3ocifer/ironclaw/internal/workspace"
)

// Names lists every protected tool name this package implements; it must
// stay in sync with the registry's protected-name set.
var Names = []string{
	"memory_search",
	"memory_get",
	"memory_write",
	"task_create",
	"task_update",
	"task_list",
	"task_export",
	"task_archive",
	"learning_add",
	"learning_list",
}

// HybridSearch is the abstract memory-search backend: implementations may
// combine lexical and semantic retrieval however they like. The Executor
// falls back to a plain substring scan over MEMORY.md when none is
// configured, so search always works without an external index.
type HybridSearch interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Executor runs the protected tool operations against the task graph,
// learning store, and workspace memory file shared by one agent.
type Executor struct {
	Graph         *taskgraph.Graph
	Learnings     learning.Store
	WorkspaceRoot string
	MemoryFile    string
	Writer        *workspace.DedupWriter
	// Search, when non-nil, serves memory_search queries ahead of the
	// substring fallback.
	Search HybridSearch
}

// New constructs an Executor. memoryFile defaults to "MEMORY.md" when
// empty.
func New(graph *taskgraph.Graph, learnings learning.Store, workspaceRoot, memoryFile string) *Executor {
	if memoryFile == "" {
		memoryFile = "MEMORY.md"
	}
	return &Executor{
		Graph:         graph,
		Learnings:     learnings,
		WorkspaceRoot: workspaceRoot,
		MemoryFile:    memoryFile,
		Writer:        workspace.NewDedupWriter(),
	}
}

// Execute dispatches name to its implementation. It is the function the
// agent loop's tool dispatcher calls for any tool the registry resolved
// with Source == registry.SourceBuiltIn and a name in Names.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case "memory_search":
		return e.memorySearch(ctx, args)
	case "memory_get":
		return e.memoryGet()
	case "memory_write":
		return e.memoryWrite(args)
	case "task_create":
		return e.taskCreate(args)
	case "task_update":
		return e.taskUpdate(args)
	case "task_list":
		return e.taskList(args)
	case "task_export":
		return e.taskExport(args)
	case "task_archive":
		return e.taskArchive(args)
	case "learning_add":
		return e.learningAdd(ctx, args)
	case "learning_list":
		return e.learningList(ctx, args)
	default:
		return "", ironerr.New(ironerr.KindNotFound, "builtintools.Execute", "unknown builtin tool "+name)
	}
}

type memorySearchArgs struct {
	Query string `json:"query"`
}

// memorySearch does a naive case-insensitive substring search over
// MEMORY.md's paragraphs. A richer hybrid semantic search can sit in
// front of this; this is the minimal exact-text fallback that always
// works with no external index.
func (e *Executor) memorySearch(ctx context.Context, args json.RawMessage) (string, error) {
	var a memorySearchArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.memorySearch", err)
		}
	}
	if e.Search != nil && a.Query != "" {
		hits, err := e.Search.Search(ctx, a.Query, 10)
		if err == nil {
			return strings.Join(hits, "\n\n"), nil
		}
		// fall through to the substring scan on backend failure
	}
	content, err := workspace.LoadMemory(e.WorkspaceRoot, e.MemoryFile)
	if err != nil {
		return "", ironerr.Wrap(ironerr.KindIO, "builtintools.memorySearch", err)
	}
	if a.Query == "" {
		return content, nil
	}
	query := strings.ToLower(a.Query)
	var matches []string
	for _, para := range strings.Split(content, "\n\n") {
		if strings.Contains(strings.ToLower(para), query) {
			matches = append(matches, para)
		}
	}
	return strings.Join(matches, "\n\n"), nil
}

func (e *Executor) memoryGet() (string, error) {
	content, err := workspace.LoadMemory(e.WorkspaceRoot, e.MemoryFile)
	if err != nil {
		return "", ironerr.Wrap(ironerr.KindIO, "builtintools.memoryGet", err)
	}
	return content, nil
}

type memoryWriteArgs struct {
	Content string `json:"content"`
}

// memoryWrite overwrites MEMORY.md through the content-hash dedup gate so
// a retried tool call never produces two physical writes.
func (e *Executor) memoryWrite(args json.RawMessage) (string, error) {
	var a memoryWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.memoryWrite", err)
	}
	path := e.WorkspaceRoot + "/" + e.MemoryFile
	wrote, err := e.Writer.WriteDedup(path, a.Content)
	if err != nil {
		return "", ironerr.Wrap(ironerr.KindIO, "builtintools.memoryWrite", err)
	}
	if !wrote {
		return "no change (content identical to current MEMORY.md)", nil
	}
	return "MEMORY.md updated", nil
}

type taskCreateArgs struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	UserID      string   `json:"user_id"`
	AgentID     string   `json:"agent_id"`
	AssignedTo  string   `json:"assigned_to"`
	DependsOn   []string `json:"depends_on"`
	Labels      []string `json:"labels"`
}

func (e *Executor) taskCreate(args json.RawMessage) (string, error) {
	var a taskCreateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.taskCreate", err)
	}
	if a.Title == "" {
		return "", ironerr.New(ironerr.KindValidation, "builtintools.taskCreate", "title is required")
	}
	task, err := e.Graph.CreateTaskScoped(taskgraph.TaskInput{
		Title:       a.Title,
		Description: a.Description,
		Priority:    taskgraph.Priority(a.Priority),
		UserID:      a.UserID,
		AgentID:     a.AgentID,
		AssignedTo:  a.AssignedTo,
		Labels:      a.Labels,
	})
	if err != nil {
		return "", err
	}
	for _, dep := range a.DependsOn {
		if err := e.Graph.AddEdge(dep, task.ID, taskgraph.EdgeBlocks); err != nil {
			return "", err
		}
	}
	out, _ := json.Marshal(task)
	return string(out), nil
}

type taskUpdateArgs struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result"`
}

func (e *Executor) taskUpdate(args json.RawMessage) (string, error) {
	var a taskUpdateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.taskUpdate", err)
	}
	if a.ID == "" || (a.Status == "" && a.Result == "") {
		return "", ironerr.New(ironerr.KindValidation, "builtintools.taskUpdate", "id and a status or result are required")
	}
	if a.Result != "" {
		if err := e.Graph.SetResult(a.ID, a.Result); err != nil {
			return "", err
		}
	}
	if a.Status != "" {
		if err := e.Graph.SetStatus(a.ID, taskgraph.Status(a.Status)); err != nil {
			return "", err
		}
	}
	task, err := e.Graph.Get(a.ID)
	if err != nil {
		return "", err
	}
	out, _ := json.Marshal(task)
	return string(out), nil
}

type taskListArgs struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	Ready   bool   `json:"ready_only"`
}

func (e *Executor) taskList(args json.RawMessage) (string, error) {
	var a taskListArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.taskList", err)
		}
	}
	if a.Ready {
		ids := e.Graph.ReadySetFor(a.UserID, a.AgentID)
		out, _ := json.Marshal(ids)
		return string(out), nil
	}
	data, err := e.Graph.Export(taskgraph.ExportFilter{UserID: a.UserID})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type taskExportArgs struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// taskExport returns the JSONL interchange form of the matching tasks,
// ready to be written to a file or shipped to another machine.
func (e *Executor) taskExport(args json.RawMessage) (string, error) {
	var a taskExportArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.taskExport", err)
		}
	}
	data, err := e.Graph.Export(taskgraph.ExportFilter{UserID: a.UserID, Status: taskgraph.Status(a.Status)})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type taskArchiveArgs struct {
	OlderThanDays int `json:"older_than_days"`
}

// taskArchive collects terminal tasks older than the retention horizon,
// writes their markdown summary into the workspace through the dedup gate,
// and returns the summary so the model can fold it into memory.
func (e *Executor) taskArchive(args json.RawMessage) (string, error) {
	var a taskArchiveArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.taskArchive", err)
		}
	}
	if a.OlderThanDays == 0 {
		a.OlderThanDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -a.OlderThanDays)
	summary, archived := e.Graph.ArchiveCompleted(cutoff)
	if len(archived) == 0 {
		return "no tasks old enough to archive", nil
	}
	path := workspace.TaskArchivePath(e.WorkspaceRoot, time.Now())
	if _, err := e.Writer.WriteDedup(path, summary); err != nil {
		return "", ironerr.Wrap(ironerr.KindIO, "builtintools.taskArchive", err)
	}
	return summary, nil
}

type learningAddArgs struct {
	UserID       string   `json:"user_id"`
	AgentID      string   `json:"agent_id"`
	Rule         string   `json:"rule"`
	Scope        string   `json:"scope"`
	ScopeContext string   `json:"scope_context"`
	Tags         []string `json:"tags"`
	EvidenceKind string   `json:"evidence_kind"`
	EvidenceRef  string   `json:"evidence_reference"`
}

func (e *Executor) learningAdd(ctx context.Context, args json.RawMessage) (string, error) {
	var a learningAddArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.learningAdd", err)
	}
	if a.Rule == "" {
		return "", ironerr.New(ironerr.KindValidation, "builtintools.learningAdd", "rule is required")
	}
	scope := learning.Scope(a.Scope)
	if scope == "" {
		scope = learning.ScopeGlobal
	}
	evidenceKind := a.EvidenceKind
	if evidenceKind == "" {
		evidenceKind = "agent_observation"
	}
	l, err := e.Learnings.Upsert(ctx, a.UserID, a.AgentID, a.Rule, scope, a.ScopeContext, a.Tags, learning.Evidence{
		Kind:      evidenceKind,
		Reference: a.EvidenceRef,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", err
	}
	out, _ := json.Marshal(l)
	return string(out), nil
}

type learningListArgs struct {
	UserID   string `json:"user_id"`
	AgentID  string `json:"agent_id"`
	MaxCount int    `json:"max_count"`
}

func (e *Executor) learningList(ctx context.Context, args json.RawMessage) (string, error) {
	var a learningListArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", ironerr.Wrap(ironerr.KindValidation, "builtintools.learningList", err)
		}
	}
	max := a.MaxCount
	if max <= 0 {
		max = 20
	}
	list, err := e.Learnings.TopActive(ctx, a.UserID, a.AgentID, max)
	if err != nil {
		return "", err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Confidence > list[j].Confidence })
	out, _ := json.Marshal(list)
	return string(out), nil
}

// IsBuiltinTool reports whether name is one of the protected native
// operations this package implements.
func IsBuiltinTool(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// FormatLearningsForPrompt renders active learnings as a compact bullet
// list for injection into a main session's system prompt.
func FormatLearningsForPrompt(learnings []*learning.Learning) string {
	if len(learnings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Learnings\n")
	for _, l := range learnings {
		fmt.Fprintf(&b, "- %s (confidence %.2f, seen %dx)\n", l.Rule, l.Confidence, l.ObservationCount)
	}
	return b.String()
}
