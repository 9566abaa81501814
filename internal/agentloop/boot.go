package agentloop

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/llmclient"
)

// bootFile is the optional cold-start checklist at the workspace root.
const bootFile = "BOOT.md"

// bootSystemPrompt frames the checklist turn. Output is suppressed either
// way; NO_REPLY just ends the chain early.
const bootSystemPrompt = "You are starting up. Execute the following startup checks using your tools. " +
	"Reply with exactly NO_REPLY when every check has been handled."

// maxBootTurns caps the boot chain so a checklist that keeps asking for
// tools cannot stall startup indefinitely.
const maxBootTurns = 8

// Boot runs the workspace's BOOT.md checklist as one suppressed turn chain
// with full tool access. A workspace without a BOOT.md boots silently; any
// other read failure is surfaced, since a present-but-unreadable checklist
// usually means a permissions problem worth stopping on.
func (l *Loop) Boot(ctx context.Context, agentID string) error {
	content, err := os.ReadFile(filepath.Join(l.cfg.WorkspaceRoot, bootFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return ironerr.Wrap(ironerr.KindIO, "agentloop.Boot", err)
	}

	threadID := "boot-" + uuid.NewString()
	messages := []llmclient.Message{{Role: llmclient.RoleUser, Content: string(content)}}

	for turn := 0; turn < maxBootTurns; turn++ {
		reply, err := l.completeRequest(ctx, llmclient.CompletionRequest{
			Model:     l.cfg.Model,
			System:    bootSystemPrompt,
			Messages:  messages,
			Tools:     l.cfg.ToolSchemas,
			MaxTokens: l.cfg.MaxTokens,
		})
		if err != nil {
			return err
		}
		messages = append(messages, reply)
		if len(reply.ToolCalls) == 0 {
			return nil
		}

		var results []llmclient.ToolResult
		for _, call := range reply.ToolCalls {
			res, err := l.cfg.Dispatcher.Dispatch(ctx, agentID, threadID, call)
			if err != nil {
				return err
			}
			if res.Pending {
				results = append(results, llmclient.ToolResult{
					ToolCallID: call.ID,
					Content:    "approval is not available during boot",
					IsError:    true,
				})
				continue
			}
			results = append(results, llmclient.ToolResult{ToolCallID: res.ToolCallID, Content: res.Content, IsError: res.IsError})
		}
		messages = append(messages, llmclient.Message{Role: llmclient.RoleTool, ToolResults: results})
	}
	return nil
}
