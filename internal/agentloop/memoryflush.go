package agentloop

import (
	"context"

	"github.com/l3ocifer/ironclaw/internal/llmclient"
)

// MaxMemoryFlushTurns bounds how many silent turns the pre-compaction memory
// flush may spend letting the model write down what it wants to remember
// before the thread gets summarized out from under it. This cap is
// authoritative: a flush that has not emitted NO_REPLY by the last turn
// simply stops rather than running indefinitely.
const MaxMemoryFlushTurns = 3

// noReplySentinel is the exact assistant content that ends a memory flush
// early, before MaxMemoryFlushTurns is reached. It is also how a boot
// checklist turn signals it has nothing to surface.
const noReplySentinel = "NO_REPLY"

// memoryFlushTools is the reduced tool set available during a flush: only
// the operations that can record something to remember, nothing that
// advances the task or reaches the outside world.
var memoryFlushTools = []string{"memory_search", "memory_get", "memory_write", "learning_add"}

// flushStep runs one silent turn: one completion plus the dispatch of any
// tool calls it requested, returning every message to append (the assistant
// message first, then its paired tool results) so the next turn's request
// stays protocol-correct.
type flushStep func(ctx context.Context, systemPrompt string, messages []llmclient.Message, allowedTools []string) ([]llmclient.Message, error)

// MemoryFlush runs up to MaxMemoryFlushTurns silent turns against a reduced
// tool set, giving the model a chance to persist anything worth remembering
// before compaction discards the messages it would have been drawn from.
// step is the single-turn driver the loop's Run supplies, wrapping the
// llmclient call and tool dispatch so this function stays agnostic of
// streaming details. Returns how many turns ran.
func MemoryFlush(ctx context.Context, step flushStep, systemPrompt string, messages []llmclient.Message) (int, error) {
	turns := 0
	for ; turns < MaxMemoryFlushTurns; turns++ {
		appended, err := step(ctx, systemPrompt, messages, memoryFlushTools)
		if err != nil {
			return turns, err
		}
		if len(appended) == 0 {
			turns++
			break
		}
		messages = append(messages, appended...)
		reply := appended[0]
		if reply.Content == noReplySentinel && len(reply.ToolCalls) == 0 {
			turns++
			break
		}
	}
	return turns, nil
}
