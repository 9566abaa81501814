// Package agentloop drives one agent's turn-by-turn execution: assembling
// the system prompt, calling the language model, dispatching the tool calls
// it requests, gating destructive ones behind approval and the command
// guard, and compacting the thread when it grows too large. It is the one
// package that wires internal/llmclient, internal/registry,
// internal/sandbox, internal/guard, internal/integrity, internal/compaction,
// internal/vault and internal/workspace together into a runnable loop.
package agentloop

import (
	"time"

	"github.com/l3ocifer/ironclaw/internal/llmclient"
)

// State is one stage of the turn state machine. Every suspension point the
// loop can block on — an LLM call, a tool dispatch, an approval wait, a
// compaction pass — is named explicitly here so a Stop or a process restart
// always lands on a state a resumed turn can pick back up from exactly,
// instead of in the middle of an unnamed step.
type State string

const (
	StateBuildingPrompt  State = "building_prompt"
	StateWaitingLLM      State = "waiting_llm"
	StateDispatchingTool State = "dispatching_tools"
	StateWaitingApproval State = "waiting_approval"
	StateCompacting      State = "compacting"
	StateDone            State = "done"
)

// SessionKind distinguishes a user's private main session, which carries
// MEMORY.md and Learnings into the system prompt, from a multi-participant
// group session, which must never leak that content to other participants.
type SessionKind string

const (
	SessionMain  SessionKind = "main"
	SessionGroup SessionKind = "group"
)

// Message is one turn of conversation as the loop persists it. Unlike
// llmclient.Message (structured ToolCalls/ToolResults, shaped for one LLM
// request) and compaction.Message (string-serialized, shaped for the
// compaction pipeline), this is the canonical in-thread representation;
// toLLMMessages and toCompactionMessages convert it for each call site.
type Message struct {
	ID          string
	Role        llmclient.Role
	Content     string
	ToolCalls   []llmclient.ToolCall
	ToolResults []llmclient.ToolResult
	CreatedAt   time.Time
}

// Thread is one continuous conversation the loop advances turn by turn.
type Thread struct {
	ID                       string
	SessionKind              SessionKind
	ChannelID                string
	AgentID                  string
	CreatedAt                time.Time
	Messages                 []Message
	LastCompactionCount      int
	LastMemoryFlushAt        int
	LastActivityAt           time.Time
	State                    State
	PendingApprovalRequestID string
}

// toLLMMessages converts a Thread's Messages into the shape llmclient.Client
// expects for a completion request.
func toLLMMessages(messages []Message) []llmclient.Message {
	out := make([]llmclient.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llmclient.Message{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

// Learning is a distilled, confidence-scored fact the agent has accumulated
// across prior sessions. Only the main session's prompt includes these; a
// group session must never see another participant's Learnings.
type Learning struct {
	ID         string
	Content    string
	Confidence float64
	Active     bool
}
