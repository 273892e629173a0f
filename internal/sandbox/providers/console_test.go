package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/forgehq/engine/internal/sandbox"
)

func TestConsoleProvider_HandleMessage_BuffersByLevel(t *testing.T) {
	p := NewConsoleProvider()

	payload, _ := json.Marshal(consolePayload{Level: "log", Message: "hello"})
	err := p.HandleMessage(context.Background(), sandbox.Message{
		Type:      sandbox.TypeConsole,
		SandboxID: "sb-1",
		Payload:   payload,
	}, nil)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	logs := p.Logs("sb-1")
	if len(logs) != 1 || logs[0] != "log: hello" {
		t.Fatalf("Logs() = %v, want [\"log: hello\"]", logs)
	}
}

func TestConsoleProvider_HandleMessage_IgnoresOtherTypes(t *testing.T) {
	p := NewConsoleProvider()

	payload, _ := json.Marshal(consolePayload{Level: "log", Message: "hello"})
	if err := p.HandleMessage(context.Background(), sandbox.Message{
		Type:      sandbox.TypeRuntimeRequest,
		SandboxID: "sb-1",
		Payload:   payload,
	}, nil); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if logs := p.Logs("sb-1"); len(logs) != 0 {
		t.Fatalf("expected no buffered logs, got %v", logs)
	}
}

func TestConsoleProvider_Forget(t *testing.T) {
	p := NewConsoleProvider()
	payload, _ := json.Marshal(consolePayload{Level: "log", Message: "hello"})
	_ = p.HandleMessage(context.Background(), sandbox.Message{Type: sandbox.TypeConsole, SandboxID: "sb-1", Payload: payload}, nil)

	p.Forget("sb-1")

	if logs := p.Logs("sb-1"); len(logs) != 0 {
		t.Fatalf("expected logs cleared after Forget, got %v", logs)
	}
}
