package hooks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/forgehq/engine/pkg/models"
)

func TestGateToolCall_Unblocked(t *testing.T) {
	r := NewRegistry(nil)
	call := models.ToolCallBlock("call-1", "read_file", json.RawMessage(`{"path":"a.txt"}`))

	blocked, reason, err := GateToolCall(context.Background(), r, "session-1", call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocked {
		t.Errorf("expected unblocked, got blocked with reason %q", reason)
	}
}

func TestGateToolCall_Blocked(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(string(EventToolCall), func(ctx context.Context, e *Event) error {
		e.Blocked = true
		e.BlockReason = "write tools require approval"
		return nil
	})

	call := models.ToolCallBlock("call-1", "write_file", json.RawMessage(`{}`))
	blocked, reason, err := GateToolCall(context.Background(), r, "session-1", call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blocked {
		t.Error("expected blocked")
	}
	if reason != "write tools require approval" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestGateToolCall_SeesCall(t *testing.T) {
	r := NewRegistry(nil)
	var seenName string
	r.Register(string(EventToolCall), func(ctx context.Context, e *Event) error {
		if e.ToolCall != nil {
			seenName = e.ToolCall.ToolName
		}
		return nil
	})

	call := models.ToolCallBlock("call-1", "run_shell", json.RawMessage(`{}`))
	if _, _, err := GateToolCall(context.Background(), r, "session-1", call); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenName != "run_shell" {
		t.Errorf("expected handler to observe tool name run_shell, got %q", seenName)
	}
}

func TestRewriteToolResult_Unmodified(t *testing.T) {
	r := NewRegistry(nil)
	call := models.ToolCallBlock("call-1", "read_file", nil)
	result := models.ToolResultPayload{ToolCallID: "call-1", Content: []models.ContentBlock{models.TextBlock("file contents")}}

	out, err := RewriteToolResult(context.Background(), r, "session-1", call, result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Content) != 1 || out.Content[0].Text != "file contents" {
		t.Errorf("expected result unchanged, got %+v", out)
	}
}

func TestRewriteToolResult_Rewritten(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(string(EventToolResult), func(ctx context.Context, e *Event) error {
		e.ToolResult = &models.ToolResultPayload{
			ToolCallID: e.ToolResult.ToolCallID,
			Content:    []models.ContentBlock{models.TextBlock("[redacted]")},
		}
		return nil
	})

	call := models.ToolCallBlock("call-1", "read_file", nil)
	result := models.ToolResultPayload{ToolCallID: "call-1", Content: []models.ContentBlock{models.TextBlock("secret")}}

	out, err := RewriteToolResult(context.Background(), r, "session-1", call, result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Content) != 1 || out.Content[0].Text != "[redacted]" {
		t.Errorf("expected rewritten result, got %+v", out)
	}
}

func TestRunAdvisory(t *testing.T) {
	r := NewRegistry(nil)
	done := make(chan struct{})
	r.Register(string(EventTurnEnd), func(ctx context.Context, e *Event) error {
		close(done)
		return nil
	})

	RunAdvisory(context.Background(), r, EventTurnEnd, "session-1", func(e *Event) {
		e.WithContext("iterations", 3)
	})

	<-done
}

func TestRunContext_Unmodified(t *testing.T) {
	r := NewRegistry(nil)
	messages := []models.Message{models.NewUserMessage("hello")}

	out, err := RunContext(context.Background(), r, "session-1", messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected messages unchanged, got %d", len(out))
	}
}

func TestRunContext_Rewritten(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(string(EventContext), func(ctx context.Context, e *Event) error {
		e.Messages = append(e.Messages, models.NewUserMessage("injected"))
		return nil
	})

	messages := []models.Message{models.NewUserMessage("hello")}
	out, err := RunContext(context.Background(), r, "session-1", messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages after rewrite, got %d", len(out))
	}
}
