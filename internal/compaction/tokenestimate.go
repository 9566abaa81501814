package compaction

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingCache memoizes tiktoken encodings per model name; building one
// downloads/parses a BPE rank file, so reuse matters on the hot path.
var encodingCache sync.Map // model string -> *tiktoken.Tiktoken

// EstimateTokensPrecise returns a tiktoken-go token count for content under
// model. Model names tiktoken does not know (e.g. non-OpenAI models) are
// counted with cl100k_base; the char/4 heuristic is used only when that
// encoding cannot be loaded either (e.g. the rank file isn't reachable).
func EstimateTokensPrecise(model, content string) int {
	enc := encodingFor(model)
	if enc == nil {
		return (len(content) + CharsPerToken - 1) / CharsPerToken
	}
	return len(enc.Encode(content, nil, nil))
}

func encodingFor(model string) *tiktoken.Tiktoken {
	if cached, ok := encodingCache.Load(model); ok {
		enc, _ := cached.(*tiktoken.Tiktoken)
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil || enc == nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			encodingCache.Store(model, (*tiktoken.Tiktoken)(nil))
			return nil
		}
	}
	encodingCache.Store(model, enc)
	return enc
}

// EstimateMessagesTokensPrecise sums EstimateTokensPrecise across messages.
func EstimateMessagesTokensPrecise(model string, messages []*Message) int {
	total := 0
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		total += EstimateTokensPrecise(model, msg.Content+msg.ToolCalls+msg.ToolResults)
	}
	return total
}
