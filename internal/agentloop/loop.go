package agentloop

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l3ocifer/ironclaw/internal/compaction"
	"github.com/l3ocifer/ironclaw/internal/integrity"
	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/llmclient"
	"github.com/l3ocifer/ironclaw/internal/obslog"
	"github.com/l3ocifer/ironclaw/internal/workspace"
)

// Config bundles every collaborator the Loop needs for one turn: the model
// client, the tool dispatcher, the prompt builder, the integrity monitor,
// and the knobs that govern compaction and the daily reset. One Config is
// shared across every thread an agent holds.
type Config struct {
	Model          string
	MaxTokens      int
	ContextWindow  int
	CompactFraction float64
	ReserveFloor   int
	SalienceThreshold float64
	DailyResetHour int // -1 disables

	Client     llmclient.Client
	Dispatcher *Dispatcher
	Prompts    *PromptBuilder
	Integrity  *integrity.Monitor
	Log        *obslog.Logger

	WorkspaceRoot string
	Writer        *workspace.DedupWriter
	ToolSchemas   []llmclient.ToolSchema
}

// DefaultConfig fills in the conservative defaults the compaction gate and
// memory flush use when a caller doesn't override them.
func DefaultConfig() Config {
	return Config{
		MaxTokens:         4096,
		ContextWindow:     100_000,
		CompactFraction:   0.8,
		ReserveFloor:      20_000,
		SalienceThreshold: 0.35,
		DailyResetHour:    4,
	}
}

// Loop drives a single Thread through one full turn: build the system
// prompt, run the integrity scan, apply the daily reset if due, compact the
// thread if it has grown past the context-window gate, call the model, and
// dispatch every tool call it requests until the model stops asking for
// more — landing the thread in StateDone or StateWaitingApproval.
type Loop struct {
	cfg Config
}

// New constructs a Loop from cfg.
func New(cfg Config) (*Loop, error) {
	if cfg.Client == nil {
		return nil, ironerr.New(ironerr.KindConfig, "agentloop.New", "llmclient.Client is required")
	}
	if cfg.Dispatcher == nil {
		return nil, ironerr.New(ironerr.KindConfig, "agentloop.New", "Dispatcher is required")
	}
	if cfg.Prompts == nil {
		return nil, ironerr.New(ironerr.KindConfig, "agentloop.New", "PromptBuilder is required")
	}
	return &Loop{cfg: cfg}, nil
}

// Run advances thread by one turn given a new inbound user message. now is
// passed explicitly so the daily-reset boundary is deterministic in tests.
func (l *Loop) Run(ctx context.Context, ws *workspace.WorkspaceContext, thread *Thread, inbound Message, now time.Time) (*Thread, error) {
	if thread.State == "" {
		thread.State = StateBuildingPrompt
	}

	if reset, err := l.maybeDailyReset(ctx, thread, now); err != nil {
		return nil, err
	} else if reset != nil {
		thread = reset
	}

	if l.cfg.Integrity != nil {
		if _, err := l.cfg.Integrity.Scan(ctx); err != nil {
			l.logWarn(ctx, "integrity scan failed", "error", err)
		}
	}

	thread.Messages = append(thread.Messages, inbound)
	thread.LastActivityAt = now

	if err := l.maybeCompact(ctx, thread); err != nil {
		return nil, err
	}

	thread.State = StateBuildingPrompt
	systemPrompt, err := l.cfg.Prompts.Build(ctx, ws, thread, now)
	if err != nil {
		return nil, err
	}

	for {
		thread.State = StateWaitingLLM
		reply, err := l.complete(ctx, systemPrompt, thread.Messages)
		if err != nil {
			return nil, err
		}

		assistantMsg := Message{
			ID:        uuid.NewString(),
			Role:      llmclient.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
			CreatedAt: now,
		}
		thread.Messages = append(thread.Messages, assistantMsg)

		if len(reply.ToolCalls) == 0 {
			thread.State = StateDone
			return thread, nil
		}

		thread.State = StateDispatchingTool
		results, pendingID, err := l.dispatchAll(ctx, thread, reply.ToolCalls)
		if err != nil {
			return nil, err
		}
		if pendingID != "" {
			thread.State = StateWaitingApproval
			thread.PendingApprovalRequestID = pendingID
			return thread, nil
		}

		thread.Messages = append(thread.Messages, Message{
			ID:          uuid.NewString(),
			Role:        llmclient.RoleTool,
			ToolResults: results,
			CreatedAt:   now,
		})
	}
}

// dispatchAll runs every tool call the model requested in this turn. The
// first call that lands in WaitingApproval suspends the whole batch: its
// request ID is returned and no further calls in the batch are dispatched,
// since a later call might depend on information the approved one would
// have produced.
func (l *Loop) dispatchAll(ctx context.Context, thread *Thread, calls []llmclient.ToolCall) ([]llmclient.ToolResult, string, error) {
	var results []llmclient.ToolResult
	for _, call := range calls {
		res, err := l.cfg.Dispatcher.Dispatch(ctx, thread.AgentID, thread.ID, call)
		if err != nil {
			return nil, "", err
		}
		if res.Pending {
			return nil, res.ApprovalRequestID, nil
		}
		results = append(results, llmclient.ToolResult{
			ToolCallID: res.ToolCallID,
			Content:    res.Content,
			IsError:    res.IsError,
		})
	}
	return results, "", nil
}

// complete wraps the configured Client's streaming Complete call, collapsing
// the chunk channel into a single Message (text plus at most one emitted
// tool call per chunk, concatenated).
func (l *Loop) complete(ctx context.Context, systemPrompt string, history []Message) (llmclient.Message, error) {
	return l.completeRequest(ctx, llmclient.CompletionRequest{
		Model:     l.cfg.Model,
		System:    systemPrompt,
		Messages:  toLLMMessages(history),
		Tools:     l.cfg.ToolSchemas,
		MaxTokens: l.cfg.MaxTokens,
	})
}

func (l *Loop) completeRequest(ctx context.Context, req llmclient.CompletionRequest) (llmclient.Message, error) {
	chunks, err := l.cfg.Client.Complete(ctx, req)
	if err != nil {
		return llmclient.Message{}, err
	}

	var msg llmclient.Message
	for chunk := range chunks {
		if chunk.Error != nil {
			return llmclient.Message{}, chunk.Error
		}
		if chunk.Text != "" {
			msg.Content += chunk.Text
		}
		if chunk.ToolCall != nil {
			msg.ToolCalls = append(msg.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}
	msg.Role = llmclient.RoleAssistant
	return msg, nil
}

// memoryFlushPrompt is the system instruction for the silent pre-compaction
// turns; the model sees only memory tools and ends with NO_REPLY.
const memoryFlushPrompt = "The conversation is about to be compacted. Review it and persist anything " +
	"worth keeping using the memory and learning tools. Reply with exactly NO_REPLY when there is " +
	"nothing more to save."

// compactionSummaryID marks the synthetic system message carrying a prior
// compaction's summary, so the next compaction can peel it off and seed the
// summarization with it instead of re-summarizing summary text.
const compactionSummaryID = "compaction-summary"

// summaryPrefix precedes the summary text inside the synthetic message.
const summaryPrefix = "Earlier conversation summary:\n"

// maybeCompact runs the compaction pipeline over thread's messages when
// ShouldCompact reports the running token estimate has crossed the
// configured fraction of the context window, replacing the summarized
// portion with a single synthetic system message carrying the summary and
// leaving the salience-pinned messages untouched. Immediately before the
// pipeline, the model gets up to MaxMemoryFlushTurns silent turns with the
// reduced memory tool set to persist what the summary would lose; a failed
// flush is logged and compaction proceeds, since running out of context
// entirely is the worse outcome. The deterministic stages always run; when
// a model client is configured, the non-pinned region additionally goes
// through the LLM-driven staged summarization, seeded with the previous
// compaction's summary so pruned content carries forward. An LLM failure
// falls back to the deterministic summary rather than failing the turn.
func (l *Loop) maybeCompact(ctx context.Context, thread *Thread) error {
	msgs := toCompactionMessages(thread.Messages)
	if !compaction.ShouldCompact(l.cfg.Model, msgs, l.cfg.ContextWindow, l.cfg.CompactFraction, l.cfg.ReserveFloor) {
		return nil
	}

	if _, err := MemoryFlush(ctx, l.flushStep(thread), memoryFlushPrompt, toLLMMessages(thread.Messages)); err != nil {
		l.logWarn(ctx, "memory flush failed", "error", err)
	}
	thread.LastMemoryFlushAt = thread.LastCompactionCount + 1

	thread.State = StateCompacting

	// Peel off the prior compaction's summary so it seeds this round's
	// summarization instead of flowing through the pipeline as content.
	previousSummary := ""
	source := thread.Messages
	if len(source) > 0 && source[0].ID == compactionSummaryID {
		previousSummary = strings.TrimPrefix(source[0].Content, summaryPrefix)
		source = source[1:]
		msgs = toCompactionMessages(source)
	}

	result := compaction.RunPipeline(msgs, l.cfg.SalienceThreshold)

	if l.cfg.Client != nil {
		llmSummary, err := compaction.SummarizeStaged(ctx, clientSummarizer{l},
			l.cfg.Model, result.SummarizedMessages, l.cfg.ContextWindow, previousSummary)
		if err != nil {
			l.logWarn(ctx, "staged summarization failed, keeping deterministic summary", "error", err)
		} else if llmSummary != "" && llmSummary != compaction.DefaultSummaryFallback {
			result.Summary = llmSummary
		}
	} else if previousSummary != "" {
		result.Summary = previousSummary + "\n\n" + result.Summary
	}

	kept := make([]Message, 0, len(result.KeptMessages)+1)
	keptIDs := make(map[string]bool, len(result.KeptMessages))
	for _, m := range result.KeptMessages {
		keptIDs[m.ID] = true
	}
	for _, m := range source {
		if keptIDs[m.ID] {
			kept = append(kept, m)
		}
	}
	if summary := result.SummaryWithTails(); summary != "" {
		kept = append([]Message{{
			ID:      compactionSummaryID,
			Role:    llmclient.RoleSystem,
			Content: summaryPrefix + summary,
		}}, kept...)
	}
	thread.Messages = kept
	thread.LastCompactionCount++
	return nil
}

// clientSummarizer adapts the loop's LLM client to compaction.Summarizer:
// one plain completion, no tools.
type clientSummarizer struct{ l *Loop }

func (s clientSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	reply, err := s.l.completeRequest(ctx, llmclient.CompletionRequest{
		Model:     s.l.cfg.Model,
		Messages:  []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt}},
		MaxTokens: s.l.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// flushStep builds the single-turn driver MemoryFlush iterates: one
// completion against the reduced tool set, then silent dispatch of every
// allowed tool call so the workspace updates before the thread shrinks.
func (l *Loop) flushStep(thread *Thread) flushStep {
	return func(ctx context.Context, systemPrompt string, messages []llmclient.Message, allowedTools []string) ([]llmclient.Message, error) {
		reply, err := l.completeRequest(ctx, llmclient.CompletionRequest{
			Model:     l.cfg.Model,
			System:    systemPrompt,
			Messages:  messages,
			Tools:     filterToolSchemas(l.cfg.ToolSchemas, allowedTools),
			MaxTokens: l.cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		out := []llmclient.Message{reply}
		if len(reply.ToolCalls) == 0 {
			return out, nil
		}
		var results []llmclient.ToolResult
		for _, call := range reply.ToolCalls {
			if !containsString(allowedTools, call.Name) {
				results = append(results, llmclient.ToolResult{
					ToolCallID: call.ID,
					Content:    "tool unavailable during memory flush: " + call.Name,
					IsError:    true,
				})
				continue
			}
			res, err := l.cfg.Dispatcher.Dispatch(ctx, thread.AgentID, thread.ID, call)
			if err != nil {
				return nil, err
			}
			if res.Pending {
				results = append(results, llmclient.ToolResult{
					ToolCallID: call.ID,
					Content:    "approval is not available during a memory flush",
					IsError:    true,
				})
				continue
			}
			results = append(results, llmclient.ToolResult{ToolCallID: res.ToolCallID, Content: res.Content, IsError: res.IsError})
		}
		out = append(out, llmclient.Message{Role: llmclient.RoleTool, ToolResults: results})
		return out, nil
	}
}

func filterToolSchemas(schemas []llmclient.ToolSchema, allowed []string) []llmclient.ToolSchema {
	var out []llmclient.ToolSchema
	for _, s := range schemas {
		if containsString(allowed, s.Name) {
			out = append(out, s)
		}
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func toCompactionMessages(messages []Message) []*compaction.Message {
	out := make([]*compaction.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, &compaction.Message{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt.Unix(),
		})
	}
	return out
}

// maybeDailyReset checks whether now has crossed the configured daily-reset
// hour since thread's last activity, and if so saves thread to a session
// snapshot and returns a fresh thread in its place. Returns nil, nil when no
// reset is due.
func (l *Loop) maybeDailyReset(ctx context.Context, thread *Thread, now time.Time) (*Thread, error) {
	if l.cfg.DailyResetHour < 0 {
		return nil, nil
	}
	if thread.LastActivityAt.IsZero() {
		return nil, nil
	}
	if !crossedResetBoundary(thread.LastActivityAt, now, l.cfg.DailyResetHour) {
		return nil, nil
	}

	subs := NewSubmissions(l.cfg.WorkspaceRoot, l.cfg.Writer, nil)
	return subs.NewThread(ctx, thread, now)
}

// crossedResetBoundary reports whether the most recent occurrence of
// resetHour:00 local time falls after last and at or before now.
func crossedResetBoundary(last, now time.Time, resetHour int) bool {
	if !now.After(last) {
		return false
	}
	boundary := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, now.Location())
	if now.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return last.Before(boundary) && !now.Before(boundary)
}

func (l *Loop) logWarn(ctx context.Context, msg string, args ...any) {
	if l.cfg.Log != nil {
		l.cfg.Log.Warn(ctx, msg, args...)
	}
}
