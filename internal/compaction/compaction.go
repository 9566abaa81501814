// Package compaction shrinks a thread's history while preserving what
// matters: high-salience turns are pinned verbatim, the rest flows through
// deterministic stages (dedup, observation extraction, dictionary and
// pattern compression, text optimization) and, when a model client is
// available, an LLM-driven staged summarization pass that folds the prior
// summary into each new one.
package compaction

import (
	"context"
	"strings"
)

const (
	// CharsPerToken is the heuristic character-to-token ratio used when no
	// real tokenizer resolves for the configured model.
	CharsPerToken = 4

	// DefaultContextWindow is the fallback window size when the caller
	// doesn't know the model's real one.
	DefaultContextWindow = 100_000

	// DefaultSummaryFallback stands in for a summary when there was
	// nothing to summarize.
	DefaultSummaryFallback = "No prior history."

	// baseCallShare and minCallShare bound the fraction of the context
	// window a single summarization call may spend on transcript input.
	baseCallShare = 0.4
	minCallShare  = 0.15

	// estimateSlack inflates token estimates when sizing calls, since both
	// the tokenizer fallback and the heuristic undercount worst cases.
	estimateSlack = 1.2
)

// Message is one conversation turn as the compaction stages see it: flat
// strings, no provider-specific structure. Tool calls and results arrive
// pre-serialized so token estimation and rendering treat them as text.
type Message struct {
	ID          string
	Role        string
	Content     string
	Timestamp   int64
	ToolCalls   string
	ToolResults string
}

// Summarizer is the one model-facing dependency of this package: given a
// fully rendered prompt, produce summary text. The agent loop supplies an
// implementation backed by its LLM client; tests supply fakes.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// CallBudget picks how many transcript tokens one summarization call may
// carry. The share adapts to the per-message token distribution: when
// individual messages are large relative to the window, the share shrinks
// so a single call (prompt + reply headroom) stays inside the model's
// limits, clamped to [minCallShare, baseCallShare] of the window.
func CallBudget(model string, messages []*Message, contextWindow int) int {
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	share := baseCallShare
	if len(messages) > 0 {
		avg := float64(EstimateMessagesTokensPrecise(model, messages)) / float64(len(messages))
		share = baseCallShare * (1 - (avg/float64(contextWindow))*estimateSlack)
		if share < minCallShare {
			share = minCallShare
		}
	}
	return int(float64(contextWindow) * share)
}

// chunkByBudget groups messages into consecutive chunks whose estimated
// token count stays at or under budget. A single message that exceeds the
// budget on its own becomes its own chunk rather than being dropped.
func chunkByBudget(model string, messages []*Message, budget int) [][]*Message {
	if len(messages) == 0 {
		return nil
	}
	if budget <= 0 {
		return [][]*Message{messages}
	}

	var chunks [][]*Message
	var current []*Message
	currentTokens := 0
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		tokens := EstimateTokensPrecise(model, msg.Content+msg.ToolCalls+msg.ToolResults)
		if currentTokens+tokens > budget && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, msg)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// SummarizeStaged runs the LLM-driven summarization over messages. When
// everything fits one call, that one call runs with previousSummary as
// context. When it doesn't, the oldest chunk is summarized first and each
// stage's output becomes the previous summary fed into the next call, so
// content is pruned oldest-first but its meaning carries forward instead
// of vanishing. previousSummary may be empty on a thread's first
// compaction.
func SummarizeStaged(ctx context.Context, s Summarizer, model string, messages []*Message, contextWindow int, previousSummary string) (string, error) {
	if s == nil || len(messages) == 0 {
		if previousSummary != "" {
			return previousSummary, nil
		}
		return DefaultSummaryFallback, nil
	}

	budget := CallBudget(model, messages, contextWindow)
	summary := strings.TrimSpace(previousSummary)
	for _, chunk := range chunkByBudget(model, messages, budget) {
		out, err := s.Summarize(ctx, summaryPrompt(summary, renderTranscript(chunk)))
		if err != nil {
			return "", err
		}
		summary = strings.TrimSpace(out)
	}
	if summary == "" {
		return DefaultSummaryFallback, nil
	}
	return summary, nil
}

// summaryPrompt assembles one summarization request: the running summary
// so far (if any) followed by the transcript chunk to fold into it.
func summaryPrompt(previousSummary, transcript string) string {
	var b strings.Builder
	b.WriteString("Summarize the conversation below into a compact briefing a future session can act on. ")
	b.WriteString("Keep decisions, open questions, errors, and file changes. Drop pleasantries and repetition.\n\n")
	if previousSummary != "" {
		b.WriteString("Summary of earlier conversation (fold this in, do not lose its facts):\n")
		b.WriteString(previousSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	b.WriteString(transcript)
	return b.String()
}

// renderTranscript flattens a chunk into the text block the summarization
// prompt carries. Tool payloads are truncated: their first line is what a
// summary can use, the rest is bulk.
func renderTranscript(messages []*Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		b.WriteString("[" + msg.Role + "] " + msg.Content)
		if msg.ToolCalls != "" {
			b.WriteString("\n  tool call: " + truncateString(msg.ToolCalls, 200))
		}
		if msg.ToolResults != "" {
			b.WriteString("\n  tool result: " + truncateString(msg.ToolResults, 200))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// truncateString cuts s to maxLen bytes with an ellipsis marker.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
