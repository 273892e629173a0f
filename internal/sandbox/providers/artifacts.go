// Package providers holds the §4.3.3 sandbox capability providers: console
// output, attachments, downloadable files, and artifact persistence.
package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/forgehq/engine/internal/artifacts"
	"github.com/forgehq/engine/internal/sandbox"
)

// ArtifactsProvider is the artifacts provider named in §4.3.3. It answers
// a sandbox's storeArtifact(...) runtime calls mid-execution, and turns a
// completed run's returned files into durable artifacts.Repository
// entries via PersistExecutionFiles.
type ArtifactsProvider struct {
	repo   artifacts.Repository
	logger *slog.Logger
}

// NewArtifactsProvider binds a provider to a Repository. repo is typically
// a *artifacts.PersistentRepository or *artifacts.SQLRepository backed by
// an artifacts.Store (§4.3's artifact backend).
func NewArtifactsProvider(repo artifacts.Repository, logger *slog.Logger) *ArtifactsProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactsProvider{repo: repo, logger: logger.With("component", "sandbox.artifacts")}
}

func (p *ArtifactsProvider) Name() string { return "artifacts" }

// GetData injects nothing; the provider's capability is exposed entirely
// through RuntimeSource's storeArtifact function.
func (p *ArtifactsProvider) GetData(ctx context.Context, id sandbox.ID) (any, error) {
	return nil, nil
}

func (p *ArtifactsProvider) RuntimeSource() string {
	return `(sandboxId) => {
  globalThis.storeArtifact = function(filename, mimeType, base64Data) {
    return sendRuntimeMessage(sandboxId, {
      kind: "store-artifact",
      filename: filename,
      mimeType: mimeType,
      data: base64Data,
    });
  };
}`
}

type storeArtifactRequest struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type storeArtifactResponse struct {
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleMessage answers runtime-request messages carrying kind
// "store-artifact"; every other message (other providers' requests, or
// terminal messages) is ignored, per the router's broadcast-to-all-providers
// dispatch in §4.3.2.
func (p *ArtifactsProvider) HandleMessage(ctx context.Context, msg sandbox.Message, respond sandbox.Respond) error {
	if msg.Type != sandbox.TypeRuntimeRequest {
		return nil
	}

	var req storeArtifactRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Kind != "store-artifact" {
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return respondArtifact(respond, storeArtifactResponse{Error: fmt.Sprintf("decode artifact data: %v", err)})
	}

	artifact := &artifacts.Artifact{
		Type:     "sandbox-file",
		MimeType: req.MimeType,
		Filename: req.Filename,
		Size:     int64(len(data)),
	}
	if err := p.repo.StoreArtifact(ctx, artifact, bytes.NewReader(data)); err != nil {
		p.logger.Warn("store artifact failed", "sandbox_id", msg.SandboxID, "filename", req.Filename, "error", err)
		return respondArtifact(respond, storeArtifactResponse{Error: err.Error()})
	}

	return respondArtifact(respond, storeArtifactResponse{Reference: artifact.Reference})
}

func respondArtifact(respond sandbox.Respond, resp storeArtifactResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return respond(payload)
}

// PersistExecutionFiles stores every file an ExecutionResult returned
// (§4.3.3's downloadable-file provider output) as an artifact, returning
// each file's storage reference in order.
func PersistExecutionFiles(ctx context.Context, repo artifacts.Repository, result *sandbox.ExecutionResult) ([]string, error) {
	if result == nil || len(result.Files) == 0 {
		return nil, nil
	}

	refs := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		data, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return refs, fmt.Errorf("decode returned file %q: %w", f.Name, err)
		}
		artifact := &artifacts.Artifact{
			Type:     "sandbox-file",
			MimeType: f.MimeType,
			Filename: f.Name,
			Size:     int64(len(data)),
		}
		if err := repo.StoreArtifact(ctx, artifact, bytes.NewReader(data)); err != nil {
			return refs, fmt.Errorf("store returned file %q: %w", f.Name, err)
		}
		refs = append(refs, artifact.Reference)
	}
	return refs, nil
}
