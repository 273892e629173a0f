package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/forgehq/engine/internal/artifacts"
	"github.com/forgehq/engine/internal/sandbox"
)

func newTestRepo(t *testing.T) artifacts.Repository {
	t.Helper()
	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	return artifacts.NewMemoryRepository(store, nil)
}

func TestArtifactsProvider_HandleMessage_StoresArtifact(t *testing.T) {
	repo := newTestRepo(t)
	p := NewArtifactsProvider(repo, nil)

	payload, _ := json.Marshal(storeArtifactRequest{
		Kind:     "store-artifact",
		Filename: "out.txt",
		MimeType: "text/plain",
		Data:     base64.StdEncoding.EncodeToString([]byte("hello sandbox")),
	})

	var got storeArtifactResponse
	respond := func(reply json.RawMessage) error {
		return json.Unmarshal(reply, &got)
	}

	err := p.HandleMessage(context.Background(), sandbox.Message{
		Type:      sandbox.TypeRuntimeRequest,
		SandboxID: "sb-1",
		Payload:   payload,
	}, respond)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if got.Error != "" {
		t.Fatalf("unexpected error response: %s", got.Error)
	}
	if got.Reference == "" {
		t.Fatal("expected a non-empty artifact reference")
	}
}

func TestArtifactsProvider_HandleMessage_IgnoresOtherKinds(t *testing.T) {
	repo := newTestRepo(t)
	p := NewArtifactsProvider(repo, nil)

	payload, _ := json.Marshal(map[string]string{"kind": "console-log"})
	called := false
	respond := func(json.RawMessage) error {
		called = true
		return nil
	}

	if err := p.HandleMessage(context.Background(), sandbox.Message{
		Type:    sandbox.TypeRuntimeRequest,
		Payload: payload,
	}, respond); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if called {
		t.Fatal("expected ArtifactsProvider to ignore a non-store-artifact request")
	}
}

func TestPersistExecutionFiles(t *testing.T) {
	repo := newTestRepo(t)

	result := &sandbox.ExecutionResult{
		Success: true,
		Files: []sandbox.File{
			{Name: "a.txt", Content: base64.StdEncoding.EncodeToString([]byte("a")), MimeType: "text/plain"},
			{Name: "b.txt", Content: base64.StdEncoding.EncodeToString([]byte("b")), MimeType: "text/plain"},
		},
	}

	refs, err := PersistExecutionFiles(context.Background(), repo, result)
	if err != nil {
		t.Fatalf("PersistExecutionFiles() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 references, got %d", len(refs))
	}
	for _, ref := range refs {
		if ref == "" {
			t.Fatal("expected non-empty reference")
		}
	}
}

func TestPersistExecutionFiles_NilResult(t *testing.T) {
	repo := newTestRepo(t)
	refs, err := PersistExecutionFiles(context.Background(), repo, nil)
	if err != nil {
		t.Fatalf("PersistExecutionFiles() error = %v", err)
	}
	if refs != nil {
		t.Fatalf("expected nil refs, got %v", refs)
	}
}
