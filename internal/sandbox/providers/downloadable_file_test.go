package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/forgehq/engine/internal/sandbox"
)

func TestDownloadableFileProvider_HandleMessage_CollectsFile(t *testing.T) {
	p := NewDownloadableFileProvider()

	payload, _ := json.Marshal(sandbox.File{Name: "out.csv", Content: "a,b\n1,2", MimeType: "text/csv"})
	err := p.HandleMessage(context.Background(), sandbox.Message{
		Type:      sandbox.TypeFileReturned,
		SandboxID: "sb-1",
		Payload:   payload,
	}, nil)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	files := p.Files("sb-1")
	if len(files) != 1 || files[0].Name != "out.csv" {
		t.Fatalf("Files() = %#v, want one out.csv entry", files)
	}
}

func TestDownloadableFileProvider_HandleMessage_IgnoresOtherTypes(t *testing.T) {
	p := NewDownloadableFileProvider()

	payload, _ := json.Marshal(sandbox.File{Name: "out.csv"})
	if err := p.HandleMessage(context.Background(), sandbox.Message{
		Type:      sandbox.TypeConsole,
		SandboxID: "sb-1",
		Payload:   payload,
	}, nil); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if files := p.Files("sb-1"); len(files) != 0 {
		t.Fatalf("expected no collected files, got %v", files)
	}
}

func TestDownloadableFileProvider_Forget(t *testing.T) {
	p := NewDownloadableFileProvider()
	payload, _ := json.Marshal(sandbox.File{Name: "out.csv"})
	_ = p.HandleMessage(context.Background(), sandbox.Message{Type: sandbox.TypeFileReturned, SandboxID: "sb-1", Payload: payload}, nil)

	p.Forget("sb-1")

	if files := p.Files("sb-1"); len(files) != 0 {
		t.Fatalf("expected files cleared after Forget, got %v", files)
	}
}
