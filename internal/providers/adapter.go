package providers

import (
	"context"
	"sync"

	"github.com/forgehq/engine/pkg/models"
)

// Options configures one streaming call, layered over Model/Context
// defaults (§4.1.2).
type Options struct {
	APIKey          string
	Headers         map[string]string
	MaxTokens       int
	Temperature     *float64
	ToolChoice      string
	ReasoningEffort string
	Signal          context.Context // cancellation: Done() aborts the stream
}

// Adapter translates a canonical Context into one provider's wire protocol
// and its streaming response back into Events (§4.1.2). streamSimple is the
// same call without extension hooks (no hook-driven Context rewriting) —
// adapters implement it directly since the hook layer lives in the Agent
// Loop, not the adapter.
type Adapter interface {
	// API returns the capability key used for registry lookups and
	// Model.api routing.
	API() string
	Stream(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error)
	StreamSimple(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error)
}

// Registration bundles an adapter's capability key with both stream modes,
// per §6: "Registration via registerApiProvider({api, stream, streamSimple})."
type Registration struct {
	API          string
	Stream       func(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error)
	StreamSimple func(ctx context.Context, model models.Model, reqCtx models.Context, opts Options) (*Stream, error)
}

// AdapterRegistry is the process-wide registration API for provider
// adapters, grounded in spec §9's "registration API with explicit
// capability declarations rather than duck-typing" redesign note.
type AdapterRegistry struct {
	mu    sync.RWMutex
	byAPI map[string]Registration
}

// NewAdapterRegistry constructs an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{byAPI: make(map[string]Registration)}
}

// RegisterAPIProvider registers an adapter under its capability key,
// replacing any prior registration for the same key.
func (r *AdapterRegistry) RegisterAPIProvider(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAPI[reg.API] = reg
}

// Get looks up the adapter registered for an api key.
func (r *AdapterRegistry) Get(api string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byAPI[api]
	return reg, ok
}

// APIs lists every registered capability key.
func (r *AdapterRegistry) APIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byAPI))
	for k := range r.byAPI {
		out = append(out, k)
	}
	return out
}

// global is the process-wide registry instance adapters register
// themselves against at package init / startup, mirroring §6's
// "Registration via registerApiProvider" external interface.
var global = NewAdapterRegistry()

// Global returns the process-wide adapter registry.
func Global() *AdapterRegistry { return global }

// RegisterAPIProvider registers reg against the process-wide registry.
func RegisterAPIProvider(reg Registration) { global.RegisterAPIProvider(reg) }

// StreamFor resolves model.API against the registry and opens a stream,
// selecting streamSimple when extensionsDisabled is set — this is the
// Agent Loop's single entry point into the Streaming Provider Abstraction
// (§4.4 step 1).
func StreamFor(ctx context.Context, model models.Model, reqCtx models.Context, opts Options, extensionsDisabled bool) (*Stream, error) {
	reg, ok := global.Get(model.API)
	if !ok {
		return nil, NewProviderError(model.Provider, model.ID, errUnknownAPI(model.API))
	}
	if extensionsDisabled {
		return reg.StreamSimple(ctx, model, reqCtx, opts)
	}
	return reg.Stream(ctx, model, reqCtx, opts)
}

type unknownAPIError string

func (e unknownAPIError) Error() string { return "providers: no adapter registered for api " + string(e) }

func errUnknownAPI(api string) error { return unknownAPIError(api) }

// FilterOrphanedToolCalls drops any assistant toolCall block whose id has
// no matching toolResult later in messages (§4.1.2 responsibility 1,
// testable property in §8). It is a pure function of the canonical
// Context, applied by every adapter before building its wire request —
// never encoded into the canonical Context itself (§9's "adapter-specific
// quirks... a pure function of the canonical Context" note applies equally
// to this shared, non-adapter-specific rule).
func FilterOrphanedToolCalls(messages []models.Message) []models.Message {
	resolved := make(map[string]bool)
	for _, m := range messages {
		if m.Role == models.RoleToolResult && m.ToolResult != nil {
			resolved[m.ToolResult.ToolCallID] = true
		}
	}

	out := make([]models.Message, len(messages))
	for i, m := range messages {
		if m.Role != models.RoleAssistant || !hasToolCall(m) {
			out[i] = m
			continue
		}
		filtered := make([]models.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type == models.BlockToolCall && !resolved[b.ToolCallID] {
				continue
			}
			filtered = append(filtered, b)
		}
		clone := m
		clone.Content = filtered
		out[i] = clone
	}
	return out
}

func hasToolCall(m models.Message) bool {
	for _, b := range m.Content {
		if b.Type == models.BlockToolCall {
			return true
		}
	}
	return false
}

// MapStopReason applies the unified stop-reason mapping from §4.1.2:
// length-exceeded -> length; tool-use requested -> toolUse; safety/content
// filter -> safety; anything else -> stop. Cancellation is handled
// separately by adapters emitting EventError{reason:"aborted"}, never via
// this mapping.
func MapStopReason(providerReason string) models.StopReason {
	switch providerReason {
	case "max_tokens", "length":
		return models.StopLength
	case "tool_use", "tool_calls", "function_call":
		return models.StopToolUse
	case "safety", "content_filter", "SAFETY":
		return models.StopSafety
	default:
		return models.StopStop
	}
}
