package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/forgehq/engine/pkg/models"
)

// BedrockAdapter serves Anthropic and other foundation models hosted on AWS
// Bedrock via the Converse/ConverseStream API, grounded in the teacher's
// providers/bedrock.go. Authentication follows the default AWS credential
// chain unless explicit keys are supplied.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	region string
}

// BedrockConfig configures a BedrockAdapter.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewBedrockAdapter constructs an adapter from the default AWS credential
// chain, or explicit static credentials when AccessKeyID is set.
func NewBedrockAdapter(cfg BedrockConfig) (*BedrockAdapter, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockAdapter{client: bedrockruntime.NewFromConfig(awsCfg), region: cfg.Region}, nil
}

func (a *BedrockAdapter) API() string { return "bedrock-converse" }

func (a *BedrockAdapter) Stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

func (a *BedrockAdapter) StreamSimple(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	return a.stream(ctx, model, reqCtx, opts)
}

func (a *BedrockAdapter) stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error) {
	if a.client == nil {
		return nil, NewProviderError("bedrock", model.ID, errors.New("bedrock client not initialized"))
	}

	messages, err := a.convertMessages(FilterOrphanedToolCalls(reqCtx.Messages))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model.ID),
		Messages: messages,
	}
	if reqCtx.SystemPrompt != "" {
		converseReq.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: reqCtx.SystemPrompt}}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}
	if maxTokens > 0 {
		bounded := int(math.Min(float64(maxTokens), math.MaxInt32))
		converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(bounded))}
	}

	if len(reqCtx.Tools) > 0 {
		toolConfig, err := convertToBedrockTools(reqCtx.Tools)
		if err != nil {
			return nil, fmt.Errorf("bedrock: failed to convert tools: %w", err)
		}
		converseReq.ToolConfig = toolConfig
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

	out, err := a.client.ConverseStream(streamCtx, converseReq)
	if err != nil {
		cancel()
		return nil, a.wrapError(err, model.ID)
	}

	events := make(chan Event, 8)
	go func() {
		defer close(events)
		a.processStream(streamCtx, out, events, model)
	}()

	return NewStream(events, cancel), nil
}

func (a *BedrockAdapter) convertMessages(messages []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch msg.Role {
		case models.RoleUser:
			for _, b := range msg.Content {
				block, err := blockToBedrock(b)
				if err != nil {
					continue
				}
				if block != nil {
					content = append(content, block)
				}
			}
		case models.RoleAssistant:
			role = types.ConversationRoleAssistant
			for _, b := range msg.Content {
				block, err := blockToBedrock(b)
				if err != nil {
					continue
				}
				if block != nil {
					content = append(content, block)
				}
			}
		case models.RoleToolResult:
			if msg.ToolResult == nil {
				continue
			}
			toolContent := make([]types.ToolResultContentBlock, 0, len(msg.ToolResult.Content))
			for _, b := range msg.ToolResult.Content {
				if b.Type == models.BlockText {
					toolContent = append(toolContent, &types.ToolResultContentBlockMemberText{Value: b.Text})
				}
			}
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolResult.ToolCallID),
					Content:   toolContent,
				},
			})
		default:
			continue
		}

		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}

	return result, nil
}

func blockToBedrock(b models.ContentBlock) (types.ContentBlock, error) {
	switch b.Type {
	case models.BlockText:
		if b.Text == "" {
			return nil, nil
		}
		return &types.ContentBlockMemberText{Value: b.Text}, nil
	case models.BlockImage:
		format, ok := bedrockImageFormat(b.MimeType)
		if !ok {
			return nil, fmt.Errorf("unsupported image format %q", b.MimeType)
		}
		data, err := decodeBase64Image(b.ImageBase64)
		if err != nil {
			return nil, err
		}
		return &types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		}}, nil
	case models.BlockToolCall:
		var inputDoc any
		if err := json.Unmarshal(b.ToolArgsJSON, &inputDoc); err != nil {
			inputDoc = map[string]any{}
		}
		return &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String(b.ToolCallID),
			Name:      aws.String(b.ToolName),
			Input:     document.NewLazyDocument(inputDoc),
		}}, nil
	case models.BlockThinking:
		// Bedrock's Converse API has no reasoning-block content type; dropped
		// the same way anthropic.go drops unsigned thinking blocks.
		return nil, nil
	default:
		return nil, nil
	}
}

func convertToBedrockTools(tools []models.ToolDescriptor) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schemaDoc any
		if err := json.Unmarshal(t.Parameters, &schemaDoc); err != nil {
			schemaDoc = map[string]any{}
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func (a *BedrockAdapter) processStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, events chan<- Event, model models.Model) {
	eventStream := out.GetStream()
	defer eventStream.Close()

	acc := newAccumulator()
	var usage models.Usage
	inText, inTool := false, false

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			emit(Event{Type: EventError, ErrorReason: StreamReasonAborted, Error: &models.Message{Role: models.RoleAssistant, StopReason: models.StopAborted, TimestampMS: nowMS()}})
			return
		case ev, ok := <-eventChan:
			if !ok {
				if err := eventStream.Err(); err != nil {
					wrapped := a.wrapError(err, model.ID)
					emit(Event{Type: EventError, ErrorReason: StreamReasonError, Error: errorMessage(model, wrapped)})
					return
				}
				usage.ApplyCost(model)
				msg := acc.message(models.StopStop, "bedrock", model.ID, a.API(), &usage, "")
				emit(Event{Type: EventDone, StopReason: msg.StopReason, Message: msg})
				return
			}

			switch v := ev.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					inTool = true
					acc.startToolCall(aws.ToString(toolUse.Value.ToolUseId), aws.ToString(toolUse.Value.Name))
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if !inText {
						inText = true
						acc.startText()
						emit(Event{Type: EventTextStart})
					}
					acc.appendText(delta.Value)
					emit(Event{Type: EventTextDelta, Delta: delta.Value})
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						acc.appendToolArgs(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if inText {
					content := acc.endText()
					emit(Event{Type: EventTextEnd, Content: content})
					inText = false
				}
				if inTool {
					block := acc.endToolCall()
					emit(Event{Type: EventToolCall, ToolCall: &block})
					inTool = false
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				stopReason := models.StopStop
				if hasToolCallBlock(acc.blocks) {
					stopReason = models.StopToolUse
				}
				usage.ApplyCost(model)
				msg := acc.message(stopReason, "bedrock", model.ID, a.API(), &usage, "")
				emit(Event{Type: EventDone, StopReason: stopReason, Message: msg})
				return

			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage.Input = int(aws.ToInt32(v.Value.Usage.InputTokens))
					usage.Output = int(aws.ToInt32(v.Value.Usage.OutputTokens))
				}
			}
		}
	}
}

func decodeBase64Image(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

func bedrockImageFormat(mimeType string) (types.ImageFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func (a *BedrockAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}
