package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/forgehq/engine/pkg/models"
)

// Tool is the GLOSSARY's Tool interface: a name/description/JSON-schema
// triple for the provider, plus an execute() the Agent Loop calls after a
// tool_call hook has had a chance to block it. Concrete tool
// implementations (bash/read/edit/write/grep) are out of scope per
// spec.md's Non-goals; this interface is what a host process wires them
// in through.
type Tool interface {
	Descriptor() models.ToolDescriptor
	Execute(ctx context.Context, toolCallID string, argsJSON json.RawMessage) models.ToolResultPayload
}

// ToolRegistry holds the tools available to one AgenticLoop. Registration
// is not safe to race with Execute/Descriptors calls in flight, matching
// the teacher's registry (nexus's tool_registry.go guards with the same
// RWMutex shape).
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry constructs an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by its descriptor name.
func (r *ToolRegistry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Descriptor().Name] = t
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every registered tool's descriptor, sorted by name
// for a stable request payload across identical registries.
func (r *ToolRegistry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *ToolRegistry) notFoundResult(toolCallID, name string) models.ToolResultPayload {
	return models.ToolResultPayload{
		ToolCallID: toolCallID,
		Content:    []models.ContentBlock{models.TextBlock(fmt.Sprintf("tool not found: %s", name))},
		IsError:    true,
	}
}
