package providers

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/forgehq/engine/internal/sandbox"
)

// Attachment is one input file made available to a sandbox execution.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// AttachmentsProvider injects window.attachments plus the listFiles,
// readTextFile, and readBinaryFile helpers named in §4.3.3. Attachments
// are per-execution: the caller must call SetAttachments before the
// sandbox's Run, using the same sandbox.ID passed to Router.RegisterSandbox.
type AttachmentsProvider struct {
	mu          sync.Mutex
	attachments map[sandbox.ID][]Attachment
}

// NewAttachmentsProvider constructs an empty attachments provider.
func NewAttachmentsProvider() *AttachmentsProvider {
	return &AttachmentsProvider{attachments: make(map[sandbox.ID][]Attachment)}
}

func (p *AttachmentsProvider) Name() string { return "attachments" }

// SetAttachments registers the input files for one upcoming execution.
func (p *AttachmentsProvider) SetAttachments(id sandbox.ID, files []Attachment) {
	p.mu.Lock()
	p.attachments[id] = files
	p.mu.Unlock()
}

// Forget drops a finished sandbox's registered attachments.
func (p *AttachmentsProvider) Forget(id sandbox.ID) {
	p.mu.Lock()
	delete(p.attachments, id)
	p.mu.Unlock()
}

type attachmentData struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GetData becomes window.attachments: metadata plus base64-encoded
// content for every file registered via SetAttachments.
func (p *AttachmentsProvider) GetData(ctx context.Context, id sandbox.ID) (any, error) {
	p.mu.Lock()
	files := append([]Attachment(nil), p.attachments[id]...)
	p.mu.Unlock()

	out := make([]attachmentData, 0, len(files))
	for _, f := range files {
		out = append(out, attachmentData{
			Name:     f.Name,
			MimeType: f.MimeType,
			Data:     base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	return out, nil
}

// RuntimeSource wires listFiles/readTextFile/readBinaryFile over the
// injected attachments[] array. readTextFile decodes base64 with a small
// inline polyfill since the goja runtime has no native atob.
func (p *AttachmentsProvider) RuntimeSource() string {
	return `(sandboxId) => {
  const b64decode = function(input) {
    const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=";
    let str = String(input).replace(/[^A-Za-z0-9+/=]/g, "");
    let output = "";
    for (let i = 0; i < str.length; i += 4) {
      const e1 = chars.indexOf(str[i]);
      const e2 = chars.indexOf(str[i + 1]);
      const e3 = chars.indexOf(str[i + 2]);
      const e4 = chars.indexOf(str[i + 3]);
      const c1 = (e1 << 2) | (e2 >> 4);
      const c2 = ((e2 & 15) << 4) | (e3 >> 2);
      const c3 = ((e3 & 3) << 6) | e4;
      output += String.fromCharCode(c1);
      if (e3 !== 64 && e3 !== -1) { output += String.fromCharCode(c2); }
      if (e4 !== 64 && e4 !== -1) { output += String.fromCharCode(c3); }
    }
    return output;
  };
  const find = function(name) {
    for (let i = 0; i < attachments.length; i++) {
      if (attachments[i].name === name) { return attachments[i]; }
    }
    throw new Error("no such attachment: " + name);
  };
  globalThis.listFiles = function() {
    return attachments.map(function(a) { return { name: a.name, mimeType: a.mimeType }; });
  };
  globalThis.readTextFile = function(name) {
    return b64decode(find(name).data);
  };
  globalThis.readBinaryFile = function(name) {
    return find(name).data;
  };
}`
}
