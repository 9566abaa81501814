package taskgraph

import (
	"testing"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

func TestCreateTaskIsRetrievableByContentID(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, err := g.CreateTask("write tests", nil)
	if err != nil {
		t.Fatal(err)
	}
	// The created task is stored under the content id it was returned with.
	b, err := g.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same id, got %s vs %s", a.ID, b.ID)
	}
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	b, _ := g.CreateTask("b", nil)
	if err := g.AddEdge(a.ID, b.ID, EdgeBlocks); err != nil {
		t.Fatal(err)
	}
	err := g.AddEdge(b.ID, a.ID, EdgeBlocks)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if ironerr.KindOf(err) != ironerr.KindCycle {
		t.Fatalf("expected KindCycle, got %v", ironerr.KindOf(err))
	}
}

func TestReadySetExcludesBlockedTasks(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	b, _ := g.CreateTask("b", nil)
	if err := g.AddEdge(a.ID, b.ID, EdgeBlocks); err != nil {
		t.Fatal(err)
	}

	ready := g.ReadySet()
	if len(ready) != 1 || ready[0] != a.ID {
		t.Fatalf("expected only %s ready, got %v", a.ID, ready)
	}

	if err := g.SetStatus(a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}
	ready = g.ReadySet()
	if len(ready) != 1 || ready[0] != b.ID {
		t.Fatalf("expected only %s ready after blocker done, got %v", b.ID, ready)
	}
}

func TestBlockersReportsDirectBlockersOnly(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	b, _ := g.CreateTask("b", nil)
	if err := g.AddEdge(a.ID, b.ID, EdgeBlocks); err != nil {
		t.Fatal(err)
	}
	blockers := g.Blockers(b.ID)
	if len(blockers) != 1 || blockers[0] != a.ID {
		t.Fatalf("expected [%s], got %v", a.ID, blockers)
	}
}

func TestSelfEdgeRejected(t *testing.T) {
	g := NewGraph(NewMemoryStore())
	a, _ := g.CreateTask("a", nil)
	if err := g.AddEdge(a.ID, a.ID, EdgeBlocks); err == nil {
		t.Fatal("expected self-edge to be rejected as a cycle")
	}
}
