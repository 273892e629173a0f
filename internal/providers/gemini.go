package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"math"

	"google.golang.org/genai"

	"github.com/forgehq/engine/pkg/models"
)

// GeminiAdapter serves Google's Gemini models, not present in the teacher's
// provider set — enriched from the rest of the retrieved pack (genai usage
// grounded in fwojciec-pipe/gemini/{client,stream}.go).
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter constructs an adapter against the Gemini API backend.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiAdapter{client: client}, nil
}

func (a *GeminiAdapter) API() string { return "gemini-generate" }

func (a *GeminiAdapter) Stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

func (a *GeminiAdapter) StreamSimple(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

func (a *GeminiAdapter) stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	if a.client == nil {
		return nil, NewProviderError("gemini", model.ID, fmt.Errorf("gemini client not initialized"))
	}

	contents, err := convertToGeminiContents(FilterOrphanedToolCalls(reqCtx.Messages))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to convert messages: %w", err)
	}

	config, err := buildGeminiConfig(model, reqCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
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

	iterSeq := a.client.Models.GenerateContentStream(streamCtx, model.ID, contents, config)

	events := make(chan Event, 8)
	go func() {
		defer close(events)
		a.processStream(streamCtx, iterSeq, events, model)
	}()

	return NewStream(events, cancel), nil
}

func buildGeminiConfig(model models.Model, reqCtx models.Context, opts Options) (*genai.GenerateContentConfig, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if maxTokens > math.MaxInt32 {
		maxTokens = math.MaxInt32
	}

	tools, err := convertToGeminiTools(reqCtx.Tools)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           tools,
	}
	if model.Reasoning && opts.ReasoningEffort != "" && opts.ReasoningEffort != "off" {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if reqCtx.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: reqCtx.SystemPrompt}}}
	}
	if opts.Temperature != nil {
		temp := float32(*opts.Temperature)
		config.Temperature = &temp
	}
	return config, nil
}

func convertToGeminiContents(messages []models.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			parts, err := convertToGeminiParts(msg.Content)
			if err != nil {
				return nil, fmt.Errorf("user message: %w", err)
			}
			result = append(result, &genai.Content{Role: "user", Parts: parts})
		case models.RoleAssistant:
			parts, err := convertToGeminiParts(msg.Content)
			if err != nil {
				return nil, fmt.Errorf("assistant message: %w", err)
			}
			result = append(result, &genai.Content{Role: "model", Parts: parts})
		case models.RoleToolResult:
			if msg.ToolResult == nil {
				continue
			}
			text := blocksToText(msg.ToolResult.Content)
			var responseMap map[string]any
			if msg.ToolResult.IsError {
				responseMap = map[string]any{"error": text}
			} else {
				responseMap = map[string]any{"output": text}
			}
			result = append(result, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{ID: msg.ToolResult.ToolCallID, Response: responseMap},
				}},
			})
		default:
			continue
		}
	}
	return result, nil
}

// convertToGeminiParts carries a thinking block's signature forward onto
// the function call that follows it, since Gemini requires ThoughtSignature
// on tool-call parts produced after reasoning.
func convertToGeminiParts(blocks []models.ContentBlock) ([]*genai.Part, error) {
	var parts []*genai.Part
	var lastSig []byte
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			parts = append(parts, &genai.Part{Text: b.Text})
		case models.BlockThinking:
			p := &genai.Part{Text: b.Thinking, Thought: true}
			if b.Signature != "" {
				lastSig = []byte(b.Signature)
				p.ThoughtSignature = lastSig
			} else {
				lastSig = nil
			}
			parts = append(parts, p)
		case models.BlockToolCall:
			var args map[string]any
			if err := json.Unmarshal(b.ToolArgsJSON, &args); err != nil {
				args = map[string]any{}
			}
			p := &genai.Part{FunctionCall: &genai.FunctionCall{ID: b.ToolCallID, Name: b.ToolName, Args: args}}
			if lastSig != nil {
				p.ThoughtSignature = lastSig
			}
			parts = append(parts, p)
		case models.BlockImage:
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: b.MimeType, Data: []byte(b.ImageBase64)}})
		}
	}
	return parts, nil
}

func convertToGeminiTools(tools []models.ToolDescriptor) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool parameters JSON for %q: %w", t.Name, err)
		}
		decls[i] = &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, ParametersJsonSchema: schema}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func (a *GeminiAdapter) processStream(ctx context.Context, iterSeq iter.Seq2[*genai.GenerateContentResponse, error], events chan<- Event, model models.Model) {
	acc := newAccumulator()
	var usage models.Usage
	inText, inThinking := false, false
	hasToolCall := false

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	abort := func() {
		emit(Event{Type: EventError, ErrorReason: StreamReasonAborted, Error: &models.Message{Role: models.RoleAssistant, StopReason: models.StopAborted, TimestampMS: nowMS()}})
	}

	next, stop := iter.Pull2(iterSeq)
	defer stop()

	finalStop := models.StopStop
	for {
		if ctx.Err() != nil {
			abort()
			return
		}

		resp, err, ok := next()
		if !ok {
			break
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			wrapped := NewProviderError("gemini", model.ID, err)
			emit(Event{Type: EventError, ErrorReason: StreamReasonError, Error: errorMessage(model, wrapped)})
			return
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			cached := int(resp.UsageMetadata.CachedContentTokenCount)
			input := int(resp.UsageMetadata.PromptTokenCount) - cached
			if input < 0 {
				input = 0
			}
			usage.Input = input
			usage.Output = int(resp.UsageMetadata.CandidatesTokenCount)
			usage.CacheRead = cached
		}

		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" && len(resp.Candidates) == 0 {
			reason := fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
			emit(Event{Type: EventError, ErrorReason: StreamReasonError, Error: errorMessage(model, reason)})
			return
		}
		if len(resp.Candidates) == 0 {
			continue
		}

		candidate := resp.Candidates[0]
		if candidate.FinishReason != "" {
			finalStop = mapGeminiFinishReason(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				hasToolCall = true
				if inText {
					emit(Event{Type: EventTextEnd, Content: acc.endText()})
					inText = false
				}
				if inThinking {
					emit(Event{Type: EventThinkingEnd, Content: acc.endThinking(string(part.ThoughtSignature))})
					inThinking = false
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				rawArgs, merr := json.Marshal(args)
				if merr != nil {
					rawArgs = []byte("{}")
				}
				id := part.FunctionCall.ID
				acc.startToolCall(id, part.FunctionCall.Name)
				acc.appendToolArgs(string(rawArgs))
				block := acc.endToolCall()
				emit(Event{Type: EventToolCall, ToolCall: &block})

			case part.Thought:
				if !inThinking {
					inThinking = true
					acc.startThinking()
					emit(Event{Type: EventThinkingStart})
				}
				acc.appendThinking(part.Text)
				if part.Text != "" {
					emit(Event{Type: EventThinkingDelta, Delta: part.Text})
				}

			case part.Text != "":
				if !inText {
					inText = true
					acc.startText()
					emit(Event{Type: EventTextStart})
				}
				acc.appendText(part.Text)
				emit(Event{Type: EventTextDelta, Delta: part.Text})
			}
		}
	}

	if inText {
		emit(Event{Type: EventTextEnd, Content: acc.endText()})
	}
	if inThinking {
		emit(Event{Type: EventThinkingEnd, Content: acc.endThinking("")})
	}

	if hasToolCall && finalStop == models.StopStop {
		finalStop = models.StopToolUse
	}
	usage.ApplyCost(model)
	msg := acc.message(finalStop, "gemini", model.ID, a.API(), &usage, "")
	emit(Event{Type: EventDone, StopReason: finalStop, Message: msg})
}

func mapGeminiFinishReason(reason genai.FinishReason) models.StopReason {
	switch reason {
	case genai.FinishReasonStop:
		return models.StopStop
	case genai.FinishReasonMaxTokens:
		return models.StopLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation,
		genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent,
		genai.FinishReasonSPII, genai.FinishReasonMalformedFunctionCall:
		return models.StopSafety
	default:
		return models.StopStop
	}
}
