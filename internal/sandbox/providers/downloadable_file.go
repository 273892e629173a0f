package providers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/forgehq/engine/internal/sandbox"
)

// DownloadableFileProvider injects returnFile(name, content, mimeType?)
// per §4.3.3 and accumulates the files a sandbox returns for the host to
// collect once the run finishes (internal/sandbox/goja.Sandbox does this
// via the FileSource interface).
type DownloadableFileProvider struct {
	mu    sync.Mutex
	files map[sandbox.ID][]sandbox.File
}

// NewDownloadableFileProvider constructs an empty file collector.
func NewDownloadableFileProvider() *DownloadableFileProvider {
	return &DownloadableFileProvider{files: make(map[sandbox.ID][]sandbox.File)}
}

func (p *DownloadableFileProvider) Name() string { return "downloadableFiles" }

// GetData injects nothing; returnFile is installed entirely via
// RuntimeSource.
func (p *DownloadableFileProvider) GetData(ctx context.Context, id sandbox.ID) (any, error) {
	return nil, nil
}

// RuntimeSource rejects non-string content without an explicit
// mimeType, per §4.3.3's requirement that Blob/Uint8Array content never
// be returned without one.
func (p *DownloadableFileProvider) RuntimeSource() string {
	return `(sandboxId) => {
  globalThis.returnFile = function(name, content, mimeType) {
    if (typeof content !== "string" && !mimeType) {
      throw new Error("returnFile: mimeType is required for non-string content");
    }
    parent.postMessage({
      type: "file-returned",
      sandboxId: sandboxId,
      payload: { name: name, content: String(content), mimeType: mimeType || "text/plain" },
    });
  };
}`
}

// HandleMessage records "file-returned" messages; every other message
// type is ignored, per the router's broadcast-to-all-providers dispatch.
func (p *DownloadableFileProvider) HandleMessage(ctx context.Context, msg sandbox.Message, respond sandbox.Respond) error {
	if msg.Type != sandbox.TypeFileReturned {
		return nil
	}
	var f sandbox.File
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		return nil
	}
	p.mu.Lock()
	p.files[msg.SandboxID] = append(p.files[msg.SandboxID], f)
	p.mu.Unlock()
	return nil
}

// Files returns a snapshot of everything returned for sandbox id so far.
func (p *DownloadableFileProvider) Files(id sandbox.ID) []sandbox.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sandbox.File(nil), p.files[id]...)
}

// Forget drops a finished sandbox's collected files.
func (p *DownloadableFileProvider) Forget(id sandbox.ID) {
	p.mu.Lock()
	delete(p.files, id)
	p.mu.Unlock()
}
