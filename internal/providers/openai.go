package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgehq/engine/pkg/models"
)

// OpenAIAdapter implements Adapter against the OpenAI chat-completions
// wire format, grounded in the teacher's providers/openai.go. The same
// wire format serves two registrations (§4.1 DOMAIN additions): "openai"
// proper, and "venice", an OpenAI-wire-compatible provider per the
// teacher's providers/venice/venice.go — both point at this adapter with
// a different base URL.
type OpenAIAdapter struct {
	client *openai.Client
	apiKey string
	api    string
}

// NewOpenAIAdapter constructs an adapter for a given capability key
// ("openai" or "venice") and optional base URL override.
func NewOpenAIAdapter(api, apiKey, baseURL string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{client: openai.NewClientWithConfig(cfg), apiKey: apiKey, api: api}
}

func (a *OpenAIAdapter) API() string { return a.api }

func (a *OpenAIAdapter) Stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

func (a *OpenAIAdapter) StreamSimple(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

func (a *OpenAIAdapter) stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	if a.client == nil {
		return nil, NewProviderError(a.api, model.ID, errors.New("API key not configured"))
	}

	client := a.client
	if opts.APIKey != "" && opts.APIKey != a.apiKey {
		cfg := openai.DefaultConfig(opts.APIKey)
		client = openai.NewClientWithConfig(cfg)
	}

	messages, err := a.convertMessages(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to convert messages: %w", a.api, err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model.ID,
		Messages: messages,
		Stream:   true,
	}
	if opts.MaxTokens > 0 {
		chatReq.MaxTokens = opts.MaxTokens
	} else if model.MaxTokens > 0 {
		chatReq.MaxTokens = model.MaxTokens
	}
	if opts.Temperature != nil {
		chatReq.Temperature = float32(*opts.Temperature)
	}
	if len(reqCtx.Tools) > 0 {
		chatReq.Tools = a.convertTools(reqCtx.Tools)
	}
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

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

	sdkStream, err := client.CreateChatCompletionStream(streamCtx, chatReq)
	if err != nil {
		cancel()
		return nil, a.wrapError(err, model.ID)
	}

	events := make(chan Event, 8)
	go func() {
		defer close(events)
		defer sdkStream.Close()
		a.processStream(streamCtx, sdkStream, events, model)
	}()

	return NewStream(events, cancel), nil
}

func (a *OpenAIAdapter) convertMessages(reqCtx models.Context) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(reqCtx.Messages)+1)
	if reqCtx.SystemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: reqCtx.SystemPrompt})
	}

	filtered := FilterOrphanedToolCalls(reqCtx.Messages)
	for _, msg := range filtered {
		switch msg.Role {
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: blocksToText(msg.Content)})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: blocksToText(msg.Content)}
			for _, b := range msg.Content {
				if b.Type != models.BlockToolCall {
					continue
				}
				args := string(b.ToolArgsJSON)
				if args == "" {
					args = "{}"
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   b.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.ToolName,
						Arguments: args,
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleToolResult:
			if msg.ToolResult == nil {
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    blocksToText(msg.ToolResult.Content),
				ToolCallID: msg.ToolResult.ToolCallID,
			})
		default:
			continue
		}
	}
	return result, nil
}

func (a *OpenAIAdapter) convertTools(tools []models.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]interface{}
		_ = json.Unmarshal(t.Parameters, &schema)
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return result
}

type openaiChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
}

func (a *OpenAIAdapter) processStream(ctx context.Context, stream openaiChatStream, events chan<- Event, model models.Model) {
	toolCalls := make(map[int]*models.ContentBlock)
	toolOrder := []int{}
	var textBuf strings.Builder
	var usage models.Usage
	textStarted := false

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			emit(Event{Type: EventError, ErrorReason: StreamReasonAborted, Error: &models.Message{Role: models.RoleAssistant, StopReason: models.StopAborted, TimestampMS: nowMS()}})
			return
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.finish(events, toolCalls, toolOrder, textBuf.String(), textStarted, usage, model, "")
				return
			}
			if ctx.Err() != nil {
				emit(Event{Type: EventError, ErrorReason: StreamReasonAborted, Error: &models.Message{Role: models.RoleAssistant, StopReason: models.StopAborted, TimestampMS: nowMS()}})
				return
			}
			wrapped := a.wrapError(err, model.ID)
			emit(Event{Type: EventError, ErrorReason: StreamReasonError, Error: errorMessage(model, wrapped)})
			return
		}

		if resp.Usage != nil {
			usage.Input = resp.Usage.PromptTokens
			usage.Output = resp.Usage.CompletionTokens
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !textStarted {
				textStarted = true
				emit(Event{Type: EventTextStart})
			}
			textBuf.WriteString(delta.Content)
			emit(Event{Type: EventTextDelta, Delta: delta.Content})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ContentBlock{Type: models.BlockToolCall}
				toolOrder = append(toolOrder, index)
			}
			if tc.ID != "" {
				toolCalls[index].ToolCallID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].ToolName = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].ToolArgsJSON = append(toolCalls[index].ToolArgsJSON, []byte(tc.Function.Arguments)...)
			}
		}

		if choice.FinishReason != "" {
			a.finish(events, toolCalls, toolOrder, textBuf.String(), textStarted, usage, model, string(choice.FinishReason))
			return
		}
	}
}

func (a *OpenAIAdapter) finish(events chan<- Event, toolCalls map[int]*models.ContentBlock, order []int, text string, textStarted bool, usage models.Usage, model models.Model, finishReason string) {
	if textStarted {
		events <- Event{Type: EventTextEnd, Content: text}
	}

	var blocks []models.ContentBlock
	if text != "" {
		blocks = append(blocks, models.TextBlock(text))
	}
	for _, idx := range order {
		tc := toolCalls[idx]
		if tc.ToolCallID == "" {
			continue
		}
		if len(tc.ToolArgsJSON) == 0 {
			tc.ToolArgsJSON = []byte("{}")
		}
		events <- Event{Type: EventToolCall, ToolCall: tc}
		blocks = append(blocks, *tc)
	}

	usage.ApplyCost(model)
	stopReason := MapStopReason(finishReason)
	if stopReason == models.StopStop && len(order) > 0 {
		stopReason = models.StopToolUse
	}
	msg := &models.Message{
		Role:        models.RoleAssistant,
		Content:     blocks,
		TimestampMS: nowMS(),
		Usage:       &usage,
		StopReason:  stopReason,
		Provider:    model.Provider,
		Model:       model.ID,
		API:         model.API,
	}
	events <- Event{Type: EventDone, StopReason: stopReason, Message: msg}
}

func (a *OpenAIAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := (&ProviderError{Provider: a.api, Model: model, Cause: err, Reason: FailoverUnknown}).WithStatus(apiErr.HTTPStatusCode)
		pe.Message = apiErr.Message
		pe.Code = fmt.Sprintf("%v", apiErr.Code)
		return pe
	}
	return NewProviderError(a.api, model, err)
}
