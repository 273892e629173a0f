package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/forgehq/engine/internal/hooks"
	"github.com/forgehq/engine/internal/providers"
	"github.com/forgehq/engine/internal/sessions"
	"github.com/forgehq/engine/pkg/models"
)

// scriptedAdapter replays a fixed sequence of Events per call, advancing
// through calls one at a time, to exercise a tool-call round trip followed
// by a plain text completion.
type scriptedAdapter struct {
	api   string
	calls [][]providers.Event
	n     int
}

func (a *scriptedAdapter) API() string { return a.api }

func (a *scriptedAdapter) Stream(ctx context.Context, model models.Model, reqCtx models.Context, opts providers.Options) (*providers.Stream, error) {
	return a.StreamSimple(ctx, model, reqCtx, opts)
}

func (a *scriptedAdapter) StreamSimple(ctx context.Context, model models.Model, reqCtx models.Context, opts providers.Options) (*providers.Stream, error) {
	events := a.calls[a.n]
	if a.n < len(a.calls)-1 {
		a.n++
	}
	ch := make(chan providers.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return providers.NewStream(ch, func() {}), nil
}

func toolCallMessage(id, name string, args string) *models.Message {
	return &models.Message{
		Role:        models.RoleAssistant,
		Content:     []models.ContentBlock{models.ToolCallBlock(id, name, json.RawMessage(args))},
		StopReason:  models.StopToolUse,
		TimestampMS: time.Now().UnixMilli(),
	}
}

func textMessage(text string) *models.Message {
	return &models.Message{
		Role:        models.RoleAssistant,
		Content:     []models.ContentBlock{models.TextBlock(text)},
		StopReason:  models.StopStop,
		TimestampMS: time.Now().UnixMilli(),
	}
}

type echoTool struct{}

func (echoTool) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{Name: "echo", Description: "echoes input", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (echoTool) Execute(ctx context.Context, toolCallID string, argsJSON json.RawMessage) models.ToolResultPayload {
	return models.ToolResultPayload{
		ToolCallID: toolCallID,
		Content:    []models.ContentBlock{models.TextBlock(string(argsJSON))},
	}
}

func newTestSession(t *testing.T) *sessions.Session {
	t.Helper()
	store := sessions.NewStore(t.TempDir())
	sess, err := store.Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestAgenticLoop_RunCompletesWithoutTools(t *testing.T) {
	api := "test-api-no-tools"
	providers.RegisterAPIProvider(providers.Registration{
		API: api,
		Stream: (&scriptedAdapter{api: api, calls: [][]providers.Event{
			{{Type: providers.EventDone, Message: textMessage("hello"), StopReason: models.StopStop}},
		}}).Stream,
		StreamSimple: (&scriptedAdapter{api: api, calls: [][]providers.Event{
			{{Type: providers.EventDone, Message: textMessage("hello"), StopReason: models.StopStop}},
		}}).StreamSimple,
	})

	loop := NewAgenticLoop(models.Model{ID: "m1", Provider: "test", API: api}, NewToolRegistry(), hooks.NewRegistry(nil), DefaultLoopConfig())
	sess := newTestSession(t)

	msg, err := loop.Run(context.Background(), sess, models.NewUserMessage("hi"), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.StopReason != models.StopStop {
		t.Fatalf("StopReason = %v, want %v", msg.StopReason, models.StopStop)
	}
}

func TestAgenticLoop_RunDispatchesToolThenCompletes(t *testing.T) {
	api := "test-api-tools"
	adapter := &scriptedAdapter{api: api, calls: [][]providers.Event{
		{{Type: providers.EventToolCall, ToolCall: &models.ContentBlock{Type: models.BlockToolCall, ToolCallID: "c1", ToolName: "echo", ToolArgsJSON: json.RawMessage(`{"x":1}`)}}, {Type: providers.EventDone, Message: toolCallMessage("c1", "echo", `{"x":1}`), StopReason: models.StopToolUse}},
		{{Type: providers.EventDone, Message: textMessage("done"), StopReason: models.StopStop}},
	}}
	providers.RegisterAPIProvider(providers.Registration{API: api, Stream: adapter.Stream, StreamSimple: adapter.StreamSimple})

	registry := NewToolRegistry()
	registry.Register(echoTool{})

	loop := NewAgenticLoop(models.Model{ID: "m1", Provider: "test", API: api}, registry, hooks.NewRegistry(nil), DefaultLoopConfig())
	sess := newTestSession(t)

	msg, err := loop.Run(context.Background(), sess, models.NewUserMessage("run echo"), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if msg.StopReason != models.StopStop {
		t.Fatalf("StopReason = %v, want %v", msg.StopReason, models.StopStop)
	}

	foundToolResult := false
	for _, e := range sess.Entries() {
		if e.Type == models.EntryMessage && e.Message != nil && e.Message.Role == models.RoleToolResult {
			foundToolResult = true
		}
	}
	if !foundToolResult {
		t.Fatal("expected a tool result entry in session history")
	}
}

func TestAgenticLoop_ToolCallBlockedByHook(t *testing.T) {
	api := "test-api-blocked"
	adapter := &scriptedAdapter{api: api, calls: [][]providers.Event{
		{{Type: providers.EventToolCall, ToolCall: &models.ContentBlock{Type: models.BlockToolCall, ToolCallID: "c1", ToolName: "echo", ToolArgsJSON: json.RawMessage(`{}`)}}, {Type: providers.EventDone, Message: toolCallMessage("c1", "echo", `{}`), StopReason: models.StopToolUse}},
		{{Type: providers.EventDone, Message: textMessage("acknowledged"), StopReason: models.StopStop}},
	}}
	providers.RegisterAPIProvider(providers.Registration{API: api, Stream: adapter.Stream, StreamSimple: adapter.StreamSimple})

	registry := NewToolRegistry()
	registry.Register(echoTool{})

	hookRegistry := hooks.NewRegistry(nil)
	hookRegistry.Register(string(hooks.EventToolCall), func(ctx context.Context, e *hooks.Event) error {
		e.Blocked = true
		e.BlockReason = "denied in test"
		return nil
	})

	loop := NewAgenticLoop(models.Model{ID: "m1", Provider: "test", API: api}, registry, hookRegistry, DefaultLoopConfig())
	sess := newTestSession(t)

	if _, err := loop.Run(context.Background(), sess, models.NewUserMessage("run echo"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var result *models.ToolResultPayload
	for _, e := range sess.Entries() {
		if e.Type == models.EntryMessage && e.Message != nil && e.Message.Role == models.RoleToolResult {
			result = e.Message.ToolResult
		}
	}
	if result == nil || !result.IsError {
		t.Fatalf("expected a blocked/error tool result, got %+v", result)
	}
}

func TestAgenticLoop_SerializeToolsRunsSequentially(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.SerializeTools = true

	api := "test-api-serial"
	adapter := &scriptedAdapter{api: api, calls: [][]providers.Event{
		{{Type: providers.EventDone, Message: textMessage("hi"), StopReason: models.StopStop}},
	}}
	providers.RegisterAPIProvider(providers.Registration{API: api, Stream: adapter.Stream, StreamSimple: adapter.StreamSimple})

	loop := NewAgenticLoop(models.Model{ID: "m1", Provider: "test", API: api}, NewToolRegistry(), hooks.NewRegistry(nil), cfg)
	sess := newTestSession(t)

	if _, err := loop.Run(context.Background(), sess, models.NewUserMessage("hi"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
