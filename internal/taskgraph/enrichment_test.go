package taskgraph

import (
	"strings"
	"testing"
	"time"
)

func TestCreateTaskScopedDefaultsPriority(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	task, err := g.CreateTaskScoped(TaskInput{Title: "scoped task", UserID: "u1", AgentID: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if task.Priority != PriorityMedium {
		t.Fatalf("expected default priority medium, got %s", task.Priority)
	}
	if task.UserID != "u1" || task.AgentID != "a1" {
		t.Fatalf("expected scoping fields to be set, got %+v", task)
	}
}

func TestReadySetForScopesByUserAndAgent(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	_, _ = g.CreateTaskScoped(TaskInput{Title: "mine", UserID: "u1", AgentID: "a1"})
	_, _ = g.CreateTaskScoped(TaskInput{Title: "other", UserID: "u2", AgentID: "a2"})

	ready := g.ReadySetFor("u1", "a1")
	if len(ready) != 1 {
		t.Fatalf("expected 1 task scoped to u1/a1, got %d: %v", len(ready), ready)
	}
}

func TestExportFiltersByStatus(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	b, _ := g.CreateTask("b", nil)
	if err := g.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}

	out, err := g.Export(ExportFilter{Status: StatusCompleted})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], a.ID) {
		t.Fatalf("expected export to contain only completed task %s, got %q", a.ID, out)
	}
	_ = b
}

func TestArchiveCompletedRemovesOldTerminalTasks(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	if err := g.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}

	summary, archived := g.ArchiveCompleted(time.Now().Add(time.Hour))
	if len(archived) != 1 || archived[0].ID != a.ID {
		t.Fatalf("expected task %s to be archived, got %v", a.ID, archived)
	}
	if !strings.Contains(summary, "a") || !strings.Contains(summary, "completed") {
		t.Fatalf("expected a markdown summary of the archived task, got %q", summary)
	}
	if _, err := g.Get(a.ID); err == nil {
		t.Fatal("expected archived task to be removed from the graph")
	}
}

func TestArchiveCompletedSkipsRecentTasks(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	if err := g.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}

	summary, archived := g.ArchiveCompleted(time.Now().Add(-time.Hour))
	if len(archived) != 0 || summary != "" {
		t.Fatalf("expected no tasks archived before their cutoff, got %v", archived)
	}
	if _, err := g.Get(a.ID); err != nil {
		t.Fatal("expected task to remain in the graph")
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("expected completed and cancelled to be terminal")
	}
	if StatusPending.Terminal() || StatusBlocked.Terminal() {
		t.Fatal("expected pending and blocked to be non-terminal")
	}
}

func TestSetStatusRejectsIllegalTransitions(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)

	if err := g.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if err := g.SetStatus(a.ID, StatusInProgress); err == nil {
		t.Fatal("expected transition out of a terminal state to be rejected")
	}

	b, _ := g.CreateTask("b", nil)
	if err := g.SetStatus(b.ID, StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := g.SetStatus(b.ID, StatusBlocked); err == nil {
		t.Fatal("blocked must only be reachable from pending or ready")
	}
}

func TestSetStatusStampsStartedAndCompleted(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)

	if err := g.SetStatus(a.ID, StatusInProgress); err != nil {
		t.Fatal(err)
	}
	got, _ := g.Get(a.ID)
	if got.StartedAt == nil {
		t.Fatal("expected StartedAt to be stamped on in_progress")
	}
	if err := g.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}
	got, _ = g.Get(a.ID)
	if got.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be stamped on completion")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTaskScoped(TaskInput{Title: "design schema", Description: "tables and indexes", UserID: "u1"})
	b, _ := g.CreateTaskScoped(TaskInput{Title: "write migration", UserID: "u1"})
	if err := g.AddEdge(a.ID, b.ID, EdgeBlocks); err != nil {
		t.Fatal(err)
	}
	if err := g.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}

	exported, err := g.Export(ExportFilter{})
	if err != nil {
		t.Fatal(err)
	}

	restored := NewGraph(NewMemoryStore())
	if err := restored.Import(exported); err != nil {
		t.Fatal(err)
	}

	reExported, err := restored.Export(ExportFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if string(exported) != string(reExported) {
		t.Fatalf("export/import round trip diverged:\n%s\nvs\n%s", exported, reExported)
	}

	// Readiness semantics survive the trip: a completed, b unblocked.
	ready := restored.ReadySet()
	if len(ready) != 1 || ready[0] != b.ID {
		t.Fatalf("expected only %s ready after import, got %v", b.ID, ready)
	}
}

func TestImportIsIdempotent(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	b, _ := g.CreateTask("b", nil)
	if err := g.AddEdge(a.ID, b.ID, EdgeBlocks); err != nil {
		t.Fatal(err)
	}
	exported, err := g.Export(ExportFilter{})
	if err != nil {
		t.Fatal(err)
	}

	restored := NewGraph(NewMemoryStore())
	if err := restored.Import(exported); err != nil {
		t.Fatal(err)
	}
	if err := restored.Import(exported); err != nil {
		t.Fatal(err)
	}

	if got := restored.Blockers(b.ID); len(got) != 1 {
		t.Fatalf("double import duplicated edges: %v", got)
	}
	events, err := restored.store.Events()
	if err != nil {
		t.Fatal(err)
	}
	original, err := g.store.Events()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(original) {
		t.Fatalf("double import duplicated events: %d vs %d", len(events), len(original))
	}
}

func TestExportLineCarriesDependsOnAndEvents(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	b, _ := g.CreateTask("b", nil)
	if err := g.AddEdge(a.ID, b.ID, EdgeBlocks); err != nil {
		t.Fatal(err)
	}

	exported, err := g.Export(ExportFilter{})
	if err != nil {
		t.Fatal(err)
	}
	var sawDep bool
	for _, line := range strings.Split(strings.TrimSpace(string(exported)), "\n") {
		if strings.Contains(line, `"depends_on":["`+a.ID+`"]`) {
			sawDep = true
		}
		if !strings.Contains(line, `"events"`) {
			t.Fatalf("export line missing events: %s", line)
		}
	}
	if !sawDep {
		t.Fatalf("no export line carried depends_on for %s:\n%s", a.ID, exported)
	}
}
