package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/workspace"
)

// SubmissionStore persists Threads across NewThread/Reset boundaries and
// process restarts. A single implementation typically backs every thread an
// agent holds, main and group alike.
type SubmissionStore interface {
	Save(ctx context.Context, t *Thread) error
	Load(ctx context.Context, threadID string) (*Thread, error)
}

// Submissions handles the out-of-band commands a channel can send alongside
// ordinary messages: starting a fresh thread, cancelling an in-flight turn,
// and resetting a thread's accumulated state. None of these go through the
// model; they mutate a Thread directly.
type Submissions struct {
	WorkspaceRoot string
	Writer        *workspace.DedupWriter
	Store         SubmissionStore
	cancelFuncs   map[string]context.CancelFunc
}

// NewSubmissions constructs a Submissions handler.
func NewSubmissions(workspaceRoot string, writer *workspace.DedupWriter, store SubmissionStore) *Submissions {
	return &Submissions{
		WorkspaceRoot: workspaceRoot,
		Writer:        writer,
		Store:         store,
		cancelFuncs:   make(map[string]context.CancelFunc),
	}
}

// RegisterCancel records the cancel function for thread's in-flight turn, so
// a later Stop call can invoke it.
func (s *Submissions) RegisterCancel(threadID string, cancel context.CancelFunc) {
	s.cancelFuncs[threadID] = cancel
}

// Stop cancels thread's in-flight turn, if one is running. It is a no-op if
// no turn is currently in flight for threadID.
func (s *Submissions) Stop(threadID string) {
	if cancel, ok := s.cancelFuncs[threadID]; ok {
		cancel()
		delete(s.cancelFuncs, threadID)
	}
}

// NewThread saves current's transcript to a session snapshot file under
// daily/, then returns a fresh Thread carrying the same identity fields
// (SessionKind, ChannelID, AgentID) but no messages or compaction state.
func (s *Submissions) NewThread(ctx context.Context, current *Thread, at time.Time) (*Thread, error) {
	if current == nil {
		return nil, ironerr.New(ironerr.KindValidation, "agentloop.NewThread", "current thread is nil")
	}

	snapshot := renderThreadSnapshot(current)
	if snapshot != "" {
		path := workspace.SessionSnapshotPath(s.WorkspaceRoot, at)
		if _, err := s.Writer.WriteDedup(path, snapshot); err != nil {
			return nil, ironerr.Wrap(ironerr.KindIO, "agentloop.NewThread", err)
		}
	}

	fresh := &Thread{
		ID:             current.ID + "-" + at.Format("20060102-150405"),
		SessionKind:    current.SessionKind,
		ChannelID:      current.ChannelID,
		AgentID:        current.AgentID,
		CreatedAt:      at,
		State:          StateBuildingPrompt,
		LastActivityAt: at,
	}
	if s.Store != nil {
		if err := s.Store.Save(ctx, fresh); err != nil {
			return nil, err
		}
	}
	return fresh, nil
}

// Reset clears a thread's messages and compaction bookkeeping in place,
// keeping its identity and ID, for a "forget everything but start from
// here" submission distinct from NewThread's archival behavior.
func (s *Submissions) Reset(ctx context.Context, t *Thread, at time.Time) error {
	t.Messages = nil
	t.LastCompactionCount = 0
	t.LastMemoryFlushAt = 0
	t.State = StateBuildingPrompt
	t.PendingApprovalRequestID = ""
	t.LastActivityAt = at
	if s.Store != nil {
		return s.Store.Save(ctx, t)
	}
	return nil
}

// renderThreadSnapshot formats a thread's messages as a readable markdown
// transcript for the session snapshot file.
func renderThreadSnapshot(t *Thread) string {
	if len(t.Messages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Session ")
	b.WriteString(t.ID)
	b.WriteString("\n\n")
	for _, m := range t.Messages {
		b.WriteString("## ")
		b.WriteString(string(m.Role))
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
		for _, tc := range m.ToolCalls {
			b.WriteString("- tool_call: ")
			b.WriteString(tc.Name)
			b.WriteString(" ")
			b.Write(jsonOrEmpty(tc.Input))
			b.WriteString("\n")
		}
		for _, tr := range m.ToolResults {
			b.WriteString("- tool_result(")
			b.WriteString(tr.ToolCallID)
			b.WriteString("): ")
			b.WriteString(tr.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
