package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/sony/gobreaker/v2"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration

	// BreakerCooldown is how long the circuit stays open (refusing new
	// requests without hitting the network) after ConsecutiveFailures
	// trips it. This is the session-pinned provider cooldown: once a
	// provider looks unhealthy, this session stops hammering it until the
	// cooldown elapses.
	BreakerCooldown     time.Duration
	ConsecutiveFailures uint32
}

// AnthropicClient implements Client against Anthropic's Messages API, with
// retry-with-backoff on transient failures and a circuit breaker that pins
// the provider into a cooldown period after repeated failures rather than
// retrying into an outage forever.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	breaker      *gobreaker.CircuitBreaker[*ssestream.Stream[anthropic.MessageStreamEventUnion]]
}

// NewAnthropicClient constructs an AnthropicClient from cfg, applying
// defaults for every optional field.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, ironerr.New(ironerr.KindConfig, "llmclient.NewAnthropicClient", "api key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	breaker := gobreaker.NewCircuitBreaker[*ssestream.Stream[anthropic.MessageStreamEventUnion]](gobreaker.Settings{
		Name:    "anthropic",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	})

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		breaker:      breaker,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) SupportsTools() bool { return true }

// Models lists the Claude models this client is willing to route to.
func (c *AnthropicClient) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-opus-4-1", Name: "Claude Opus 4.1", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000, SupportsVision: true},
	}
}

// Complete streams a completion from Claude. It retries transient failures
// (rate limits, 5xx, timeouts) with exponential backoff up to maxRetries,
// short-circuiting through the breaker once the provider has tripped into
// cooldown.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	chunks := make(chan CompletionChunk)

	go func() {
		defer close(chunks)

		model := c.model(req.Model)
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			stream, err = c.breaker.Execute(func() (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
				return c.createStream(ctx, req)
			})
			if err == nil {
				break
			}
			wrapped := c.wrapError(err, model)
			if !ironerr.IsRetryable(wrapped) {
				chunks <- CompletionChunk{Error: wrapped}
				return
			}
			if attempt == c.maxRetries {
				break
			}
			backoff := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- CompletionChunk{Error: ctx.Err()}
				return
			case <-time.After(backoff):
			}
		}
		if err != nil {
			chunks <- CompletionChunk{Error: ironerr.Wrap(ironerr.KindLLMRateLimit, "llmclient.Complete", c.wrapError(err, model))}
			return
		}

		c.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (c *AnthropicClient) model(requested string) string {
	if requested == "" {
		return c.defaultModel
	}
	return requested
}

func (c *AnthropicClient) createStream(ctx context.Context, req CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return c.client.Messages.NewStreaming(ctx, params), nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

// maxEmptyStreamEvents guards against a malformed stream flooding empty
// events forever; it's exercised only by a misbehaving or adversarial
// upstream, not by any Claude response observed in practice.
const maxEmptyStreamEvents = 300

func (c *AnthropicClient) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- CompletionChunk) {
	var currentToolCall *ToolCall
	var currentToolInput strings.Builder
	inThinking := false
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				chunks <- CompletionChunk{ThinkingStart: true}
				processed = true
			case "tool_use":
				toolUse := block.AsToolUse()
				currentToolCall = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- CompletionChunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- CompletionChunk{Thinking: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinking {
				chunks <- CompletionChunk{ThinkingEnd: true}
				inThinking = false
				processed = true
			} else if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			d := event.AsMessageDelta()
			if d.Usage.OutputTokens > 0 {
				outputTokens = int(d.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- CompletionChunk{Error: c.wrapError(errors.New("anthropic stream error"), "")}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- CompletionChunk{Error: fmt.Errorf("anthropic: stream appears malformed after %d empty events", emptyEvents)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- CompletionChunk{Error: c.wrapError(err, "")}
	}
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// wrapError classifies err into the ironerr LLM-kind taxonomy so callers can
// branch on retryability without depending on Anthropic SDK error types.
func (c *AnthropicClient) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		op := "llmclient.anthropic"
		switch {
		case apiErr.StatusCode == 429:
			return ironerr.Wrap(ironerr.KindLLMRateLimit, op, err)
		case apiErr.StatusCode >= 500:
			return ironerr.Wrap(ironerr.KindLLMOverloaded, op, err)
		case apiErr.StatusCode >= 400:
			return ironerr.Wrap(ironerr.KindLLMInvalid, op, err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return ironerr.Wrap(ironerr.KindLLMOverloaded, "llmclient.anthropic", err)
	}
	return ironerr.Wrap(ironerr.KindLLMInvalid, "llmclient.anthropic", err)
}
