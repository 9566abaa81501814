package agentloop

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/l3ocifer/ironclaw/internal/builtintools"
	"github.com/l3ocifer/ironclaw/internal/learning"
	"github.com/l3ocifer/ironclaw/internal/llmclient"
	"github.com/l3ocifer/ironclaw/internal/policy"
	"github.com/l3ocifer/ironclaw/internal/registry"
	"github.com/l3ocifer/ironclaw/internal/taskgraph"
	"github.com/l3ocifer/ironclaw/internal/workspace"
	"github.com/l3ocifer/ironclaw/pkg/ironmodels"
)

// scriptedClient replays one canned response per Complete call, in order.
type scriptedClient struct {
	responses [][]llmclient.CompletionChunk
	calls     int
}

func (c *scriptedClient) Name() string                { return "scripted" }
func (c *scriptedClient) Models() []llmclient.ModelInfo { return nil }
func (c *scriptedClient) SupportsTools() bool          { return true }

func (c *scriptedClient) Complete(ctx context.Context, req llmclient.CompletionRequest) (<-chan llmclient.CompletionChunk, error) {
	idx := c.calls
	c.calls++
	ch := make(chan llmclient.CompletionChunk, len(c.responses[idx]))
	for _, chunk := range c.responses[idx] {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func textThenDone(text string) []llmclient.CompletionChunk {
	return []llmclient.CompletionChunk{{Text: text}, {Done: true}}
}

func toolCallThenDone(callID, name string, input json.RawMessage) []llmclient.CompletionChunk {
	return []llmclient.CompletionChunk{
		{ToolCall: &llmclient.ToolCall{ID: callID, Name: name, Input: input}},
		{Done: true},
	}
}

func newTestLoop(t *testing.T, client *scriptedClient, root string) (*Loop, *builtintools.Executor) {
	t.Helper()
	graph := taskgraph.NewGraph(taskgraph.NewMemoryStore())
	learnings := learning.NewMemoryStore()
	exec := builtintools.New(graph, learnings, root, "")

	reg := registry.New()
	for _, name := range builtintools.Names {
		if err := reg.Register(registry.Descriptor{Name: name, Source: registry.SourceBuiltIn}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	dispatcher := &Dispatcher{
		Registry:   reg,
		Resolver:   policy.NewResolver(),
		ToolPolicy: &policy.Policy{Profile: policy.ProfileFull},
		Approvals:  NewApprovalChecker(&ApprovalPolicy{DefaultDecision: ApprovalAllowed}),
		BuiltIns:   exec,
	}

	prompts := NewPromptBuilder(root, "", learnings, 10)

	cfg := DefaultConfig()
	cfg.Client = client
	cfg.Dispatcher = dispatcher
	cfg.Prompts = prompts
	cfg.WorkspaceRoot = root
	cfg.Writer = workspace.NewDedupWriter()
	cfg.DailyResetHour = -1

	loop, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop, exec
}

func testWorkspaceContext() *workspace.WorkspaceContext {
	return &workspace.WorkspaceContext{}
}

func TestRunFinishesWithoutToolCalls(t *testing.T) {
	root := t.TempDir()
	client := &scriptedClient{responses: [][]llmclient.CompletionChunk{textThenDone("hello there")}}
	loop, _ := newTestLoop(t, client, root)

	thread := &Thread{ID: "t1", SessionKind: SessionMain, AgentID: "agent-1", ChannelID: "user-1"}
	inbound := Message{ID: "m1", Role: llmclient.RoleUser, Content: "hi"}

	out, err := loop.Run(context.Background(), testWorkspaceContext(), thread, inbound, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateDone {
		t.Fatalf("expected StateDone, got %s", out.State)
	}
	last := out.Messages[len(out.Messages)-1]
	if last.Role != llmclient.RoleAssistant || last.Content != "hello there" {
		t.Fatalf("unexpected last message: %+v", last)
	}
}

func TestRunDispatchesBuiltinToolBeforeFinishing(t *testing.T) {
	root := t.TempDir()
	writeArgs, _ := json.Marshal(map[string]string{"content": "remember this"})
	client := &scriptedClient{responses: [][]llmclient.CompletionChunk{
		toolCallThenDone("call-1", "memory_write", writeArgs),
		textThenDone("done"),
	}}
	loop, exec := newTestLoop(t, client, root)

	thread := &Thread{ID: "t1", SessionKind: SessionMain, AgentID: "agent-1", ChannelID: "user-1"}
	inbound := Message{ID: "m1", Role: llmclient.RoleUser, Content: "please remember this"}

	out, err := loop.Run(context.Background(), testWorkspaceContext(), thread, inbound, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateDone {
		t.Fatalf("expected StateDone, got %s", out.State)
	}

	var sawToolResult bool
	for _, m := range out.Messages {
		if m.Role == llmclient.RoleTool {
			sawToolResult = true
			if len(m.ToolResults) != 1 || m.ToolResults[0].ToolCallID != "call-1" {
				t.Fatalf("unexpected tool result message: %+v", m)
			}
		}
	}
	if !sawToolResult {
		t.Fatal("expected a tool-result message in the thread")
	}

	got, err := exec.Execute(context.Background(), "memory_get", nil)
	if err != nil {
		t.Fatalf("memory_get: %v", err)
	}
	if got != "remember this" {
		t.Fatalf("expected memory_write to persist content, got %q", got)
	}
}

func TestRunSuspendsOnPendingApproval(t *testing.T) {
	root := t.TempDir()
	client := &scriptedClient{responses: [][]llmclient.CompletionChunk{
		toolCallThenDone("call-1", "memory_write", json.RawMessage(`{"content":"x"}`)),
	}}
	loop, _ := newTestLoop(t, client, root)
	loop.cfg.Dispatcher.Approvals = NewApprovalChecker(&ApprovalPolicy{DefaultDecision: ApprovalPending, AskFallback: true})

	thread := &Thread{ID: "t1", SessionKind: SessionMain, AgentID: "agent-1", ChannelID: "user-1"}
	inbound := Message{ID: "m1", Role: llmclient.RoleUser, Content: "remember x"}

	out, err := loop.Run(context.Background(), testWorkspaceContext(), thread, inbound, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateWaitingApproval {
		t.Fatalf("expected StateWaitingApproval, got %s", out.State)
	}
	if out.PendingApprovalRequestID == "" {
		t.Fatal("expected a pending approval request id")
	}
}

func TestCrossedResetBoundaryDetectsNextDayRollover(t *testing.T) {
	last := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	now := time.Date(2026, 7, 31, 5, 0, 0, 0, time.UTC)
	if !crossedResetBoundary(last, now, 4) {
		t.Fatal("expected reset boundary crossed between 23:00 and next day 05:00 with reset hour 4")
	}
}

func TestCrossedResetBoundaryFalseWithinSameWindow(t *testing.T) {
	last := time.Date(2026, 7, 31, 5, 0, 0, 0, time.UTC)
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	if crossedResetBoundary(last, now, 4) {
		t.Fatal("expected no reset boundary crossed within the same day after the reset hour")
	}
}

func TestBootIsNoOpWithoutBootFile(t *testing.T) {
	root := t.TempDir()
	client := &scriptedClient{} // any Complete call would panic on the empty script
	loop, _ := newTestLoop(t, client, root)

	if err := loop.Boot(context.Background(), "agent-1"); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no LLM calls without BOOT.md, got %d", client.calls)
	}
}

func TestBootRunsChecklistToolsThenStops(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "BOOT.md"), []byte("- verify memory is readable"), 0o644); err != nil {
		t.Fatal(err)
	}
	client := &scriptedClient{responses: [][]llmclient.CompletionChunk{
		toolCallThenDone("call-1", "memory_get", nil),
		textThenDone("NO_REPLY"),
	}}
	loop, _ := newTestLoop(t, client, root)

	if err := loop.Boot(context.Background(), "agent-1"); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected checklist turn plus NO_REPLY turn, got %d calls", client.calls)
	}
}

func TestCompactionGateRunsMemoryFlushFirst(t *testing.T) {
	root := t.TempDir()

	// Enough history to trip the compaction gate with a tiny window. The
	// filler turns carry an error cue so they pin as key moments, leaving
	// exactly the inbound message for the staged summarization call.
	thread := &Thread{ID: "t1", SessionKind: SessionMain, AgentID: "agent-1", ChannelID: "user-1"}
	for i := 0; i < 20; i++ {
		thread.Messages = append(thread.Messages, Message{
			ID:      uuid.NewString(),
			Role:    llmclient.RoleUser,
			Content: strings.Repeat("ERROR: database connection refused ", 25),
		})
	}

	writeArgs, _ := json.Marshal(map[string]string{"content": "flushed before compaction"})
	client := &scriptedClient{responses: [][]llmclient.CompletionChunk{
		toolCallThenDone("flush-1", "memory_write", writeArgs), // flush turn 1
		textThenDone("NO_REPLY"),                               // flush turn 2 ends the flush
		textThenDone("- user asked to continue the work"),      // staged summarization call
		textThenDone("final answer"),                           // the real turn
	}}
	loop, exec := newTestLoop(t, client, root)
	loop.cfg.ContextWindow = 300
	loop.cfg.ReserveFloor = 0

	inbound := Message{ID: "m-in", Role: llmclient.RoleUser, Content: "continue"}
	out, err := loop.Run(context.Background(), testWorkspaceContext(), thread, inbound, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateDone {
		t.Fatalf("expected StateDone, got %s", out.State)
	}
	if out.LastCompactionCount != 1 {
		t.Fatalf("expected one compaction, got %d", out.LastCompactionCount)
	}
	if out.LastMemoryFlushAt != 1 {
		t.Fatalf("expected flush recorded at compaction 1, got %d", out.LastMemoryFlushAt)
	}

	got, err := exec.Execute(context.Background(), "memory_get", nil)
	if err != nil {
		t.Fatalf("memory_get: %v", err)
	}
	if got != "flushed before compaction" {
		t.Fatalf("expected the flush to have persisted memory, got %q", got)
	}
}

func TestDispatcherEmitsToolLifecycleEvents(t *testing.T) {
	root := t.TempDir()
	writeArgs, _ := json.Marshal(map[string]string{"content": "observed"})
	client := &scriptedClient{responses: [][]llmclient.CompletionChunk{
		toolCallThenDone("call-1", "memory_write", writeArgs),
		textThenDone("done"),
	}}
	loop, _ := newTestLoop(t, client, root)

	var kinds []ironmodels.ToolEventKind
	loop.cfg.Dispatcher.Events = func(ev ironmodels.ToolEvent) {
		kinds = append(kinds, ev.Kind)
	}

	thread := &Thread{ID: "t1", SessionKind: SessionMain, AgentID: "agent-1", ChannelID: "user-1"}
	inbound := Message{ID: "m1", Role: llmclient.RoleUser, Content: "write it down"}
	if _, err := loop.Run(context.Background(), testWorkspaceContext(), thread, inbound, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []ironmodels.ToolEventKind{
		ironmodels.ToolEventRequested,
		ironmodels.ToolEventStarted,
		ironmodels.ToolEventSucceeded,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}
