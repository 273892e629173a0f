package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgehq/engine/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive content-free SSE events before a
// stream is treated as malformed, preventing a flooding stream from
// spinning the consumer forever. Grounded in the teacher's
// providers/anthropic.go guard of the same name and value.
const maxEmptyStreamEvents = 300

// AnthropicAdapter implements Adapter against Anthropic's native Messages
// API, grounded directly on the teacher's providers/anthropic.go SSE
// event-type switch, rewritten to emit the spec's typed Event union
// instead of the teacher's flat CompletionChunk.
type AnthropicAdapter struct {
	client     anthropic.Client
	maxRetries int
	retryDelay time.Duration
}

// NewAnthropicAdapter constructs an adapter. apiKey/baseURL may be empty
// and supplied per-call instead via Options.
func NewAnthropicAdapter(apiKey, baseURL string, maxRetries int, retryDelay time.Duration) *AnthropicAdapter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...), maxRetries: maxRetries, retryDelay: retryDelay}
}

func (a *AnthropicAdapter) API() string { return "anthropic-messages" }

func (a *AnthropicAdapter) Stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

// StreamSimple is identical to Stream: the Anthropic adapter has no
// extension-only behavior to strip (hook-driven Context rewriting happens
// in the Agent Loop before either entry point is called).
func (a *AnthropicAdapter) StreamSimple(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

func (a *AnthropicAdapter) stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	client := a.client
	var callOpts []option.RequestOption
	if opts.APIKey != "" {
		callOpts = append(callOpts, option.WithAPIKey(opts.APIKey))
	}
	for k, v := range opts.Headers {
		callOpts = append(callOpts, option.WithHeader(k, v))
	}

	params, err := a.buildParams(model, reqCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if opts.Signal != nil {
		go func() {
			select {
			case <-opts.Signal.Done():
				cancel()
			case <-streamCtx.Done():
			}
		}()
	}

	events := make(chan Event, 8)

	go func() {
		defer close(events)
		sdkStream := client.Messages.NewStreaming(streamCtx, params, callOpts...)
		a.processStream(streamCtx, sdkStream, events, model)
	}()

	return NewStream(events, cancel), nil
}

func (a *AnthropicAdapter) buildParams(model models.Model, reqCtx models.Context, opts Options) (anthropic.MessageNewParams, error) {
	filtered := FilterOrphanedToolCalls(reqCtx.Messages)

	messages, err := a.convertMessages(filtered)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.ID),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if reqCtx.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: reqCtx.SystemPrompt}}
	}

	if len(reqCtx.Tools) > 0 {
		tools, err := a.convertTools(reqCtx.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if model.Reasoning && opts.ReasoningEffort != "" && opts.ReasoningEffort != "off" {
		budget := reasoningBudget(opts.ReasoningEffort)
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

func reasoningBudget(effort string) int64 {
	switch effort {
	case "low":
		return 4096
	case "medium":
		return 10000
	case "high":
		return 32000
	default:
		return 10000
	}
}

func (a *AnthropicAdapter) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			content, err := blocksToAnthropicContent(msg.Content)
			if err != nil {
				return nil, err
			}
			result = append(result, anthropic.NewUserMessage(content...))
		case models.RoleAssistant:
			content, err := blocksToAnthropicContent(msg.Content)
			if err != nil {
				return nil, err
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		case models.RoleToolResult:
			if msg.ToolResult == nil {
				continue
			}
			text := blocksToText(msg.ToolResult.Content)
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolResult.ToolCallID, text, msg.ToolResult.IsError),
			))
		default:
			// Custom roles (hookMessage, bashExecution, navigation) are not
			// sent to the provider; they exist for transcript bookkeeping only.
			continue
		}
	}
	return result, nil
}

func blocksToAnthropicContent(blocks []models.ContentBlock) ([]anthropic.ContentBlockParamUnion, error) {
	var content []anthropic.ContentBlockParamUnion
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			if b.Text != "" {
				content = append(content, anthropic.NewTextBlock(b.Text))
			}
		case models.BlockThinking:
			// Anthropic round-trips thinking blocks via a dedicated param;
			// a signature-less thinking block is dropped rather than sent
			// malformed, per §4.1.2's "dropping signatures when not supported".
			if b.Signature != "" {
				content = append(content, anthropic.NewThinkingBlock(b.Signature, b.Thinking))
			}
		case models.BlockImage:
			content = append(content, anthropic.NewImageBlockBase64(b.MimeType, b.ImageBase64))
		case models.BlockToolCall:
			var input map[string]interface{}
			if len(b.ToolArgsJSON) > 0 {
				if err := json.Unmarshal(b.ToolArgsJSON, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", b.ToolName, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(b.ToolCallID, input, b.ToolName))
		}
	}
	return content, nil
}

func blocksToText(blocks []models.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == models.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func (a *AnthropicAdapter) convertTools(tools []models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

// processStream consumes Anthropic SSE events and converts them into the
// canonical Event union, maintaining a single "current block" cursor per
// §4.1.2 responsibility 3.
func (a *AnthropicAdapter) processStream(ctx context.Context, stream anthropicStream, events chan<- Event, model models.Model) {
	acc := newAccumulator()
	var usage models.Usage
	inThinking := false
	inText := false
	emptyEvents := 0

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		if ctx.Err() != nil {
			emit(Event{Type: EventError, ErrorReason: StreamReasonAborted, Error: &models.Message{Role: models.RoleAssistant, StopReason: models.StopAborted, TimestampMS: nowMS()}})
			return
		}

		ev := stream.Current()
		processed := false

		switch ev.Type {
		case "message_start":
			ms := ev.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				usage.Input = int(ms.Message.Usage.InputTokens)
			}
			if ms.Message.Usage.CacheReadInputTokens > 0 {
				usage.CacheRead = int(ms.Message.Usage.CacheReadInputTokens)
			}
			if ms.Message.Usage.CacheCreationInputTokens > 0 {
				usage.CacheWrite = int(ms.Message.Usage.CacheCreationInputTokens)
			}
			processed = true

		case "content_block_start":
			block := ev.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				acc.startThinking()
				emit(Event{Type: EventThinkingStart})
			case "text":
				inText = true
				acc.startText()
				emit(Event{Type: EventTextStart})
			case "tool_use":
				tu := block.AsToolUse()
				acc.startToolCall(tu.ID, tu.Name)
			}
			processed = true

		case "content_block_delta":
			delta := ev.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					acc.appendText(delta.Text)
					emit(Event{Type: EventTextDelta, Delta: delta.Text})
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					acc.appendThinking(delta.Thinking)
					emit(Event{Type: EventThinkingDelta, Delta: delta.Thinking})
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					acc.appendToolArgs(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinking {
				content := acc.endThinking("")
				inThinking = false
				emit(Event{Type: EventThinkingEnd, Content: content})
				processed = true
			} else if inText {
				content := acc.endText()
				inText = false
				emit(Event{Type: EventTextEnd, Content: content})
				processed = true
			} else if acc.toolCallID != "" {
				block := acc.endToolCall()
				emit(Event{Type: EventToolCall, ToolCall: &block})
				processed = true
			}

		case "message_delta":
			md := ev.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.Output = int(md.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			usage.ApplyCost(model)
			stopReason := models.StopStop
			if hasToolCallBlock(acc.blocks) {
				stopReason = models.StopToolUse
			}
			msg := acc.message(stopReason, model.Provider, model.ID, model.API, &usage, "")
			emit(Event{Type: EventDone, StopReason: stopReason, Message: msg})
			return

		case "error":
			wrapped := a.wrapError(errors.New("anthropic stream error"), model.ID)
			emit(Event{Type: EventError, ErrorReason: StreamReasonError, Error: errorMessage(model, wrapped)})
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				wrapped := a.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents), model.ID)
				emit(Event{Type: EventError, ErrorReason: StreamReasonError, Error: errorMessage(model, wrapped)})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			emit(Event{Type: EventError, ErrorReason: StreamReasonAborted, Error: &models.Message{Role: models.RoleAssistant, StopReason: models.StopAborted, TimestampMS: nowMS()}})
			return
		}
		wrapped := a.wrapError(err, model.ID)
		emit(Event{Type: EventError, ErrorReason: StreamReasonError, Error: errorMessage(model, wrapped)})
	}
}

func hasToolCallBlock(blocks []models.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == models.BlockToolCall {
			return true
		}
	}
	return false
}

func errorMessage(model models.Model, err error) *models.Message {
	return &models.Message{
		Role:         models.RoleAssistant,
		TimestampMS:  nowMS(),
		StopReason:   models.StopError,
		ErrorMessage: err.Error(),
		Provider:     model.Provider,
		Model:        model.ID,
		API:          model.API,
	}
}

func (a *AnthropicAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := (&ProviderError{Provider: "anthropic", Model: model, Cause: err, Reason: FailoverUnknown}).WithStatus(apiErr.StatusCode)
		pe.Message = apiErr.Error()
		return pe
	}
	return NewProviderError("anthropic", model, err)
}

// isRetryableError classifies whether a createStream failure (distinct
// from mid-stream errors, which are surfaced directly) should be retried
// with exponential backoff, per §4.1.2 responsibility 2.
func (a *AnthropicAdapter) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
