package agentloop

import (
	"context"
	"strings"
	"time"

	"github.com/l3ocifer/ironclaw/internal/builtintools"
	"github.com/l3ocifer/ironclaw/internal/learning"
	"github.com/l3ocifer/ironclaw/internal/workspace"
)

// PromptBuilder assembles a thread's system prompt in the fixed order the
// loop requires: persona and user profile, today's and yesterday's daily
// logs, then — for a main session only — MEMORY.md and the agent's highest-
// confidence active Learnings. A group session must never see the last two;
// leaking one participant's memory or learnings into a shared thread is the
// single privacy invariant this package exists to enforce.
type PromptBuilder struct {
	WorkspaceRoot string
	MemoryFile    string
	Learnings     learning.Store
	MaxLearnings  int
}

// NewPromptBuilder constructs a PromptBuilder. maxLearnings defaults to 20
// when <= 0.
func NewPromptBuilder(workspaceRoot, memoryFile string, learnings learning.Store, maxLearnings int) *PromptBuilder {
	if maxLearnings <= 0 {
		maxLearnings = 20
	}
	return &PromptBuilder{
		WorkspaceRoot: workspaceRoot,
		MemoryFile:    memoryFile,
		Learnings:     learnings,
		MaxLearnings:  maxLearnings,
	}
}

// Build renders the full system prompt for thread, given the already-loaded
// persona/user context ws and the current time now (passed in rather than
// taken from time.Now so callers can make the daily-log boundary
// deterministic in tests).
func (b *PromptBuilder) Build(ctx context.Context, ws *workspace.WorkspaceContext, thread *Thread, now time.Time) (string, error) {
	var sections []string

	if persona := ws.SystemPromptContext(); persona != "" {
		sections = append(sections, persona)
	}

	today, yesterday, err := workspace.TodayAndYesterday(b.WorkspaceRoot, now)
	if err != nil {
		return "", err
	}
	if today != "" {
		sections = append(sections, "## Today's log\n"+today)
	}
	if yesterday != "" {
		sections = append(sections, "## Yesterday's log\n"+yesterday)
	}

	if thread.SessionKind == SessionMain {
		if ws.MemoryContent != "" {
			sections = append(sections, "## MEMORY.md\n"+ws.MemoryContent)
		}
		if b.Learnings != nil {
			top, err := b.Learnings.TopActive(ctx, thread.ChannelID, thread.AgentID, b.MaxLearnings)
			if err != nil {
				return "", err
			}
			if rendered := builtintools.FormatLearningsForPrompt(top); rendered != "" {
				sections = append(sections, rendered)
			}
		}
	}

	return strings.Join(sections, "\n\n"), nil
}
