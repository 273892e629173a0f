package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// registration holds everything the Router knows about one sandbox.
type registration struct {
	providers []Provider
	consumers []Consumer
	sandbox   Sandbox // set by setSandboxIframe once the sandbox exists
	mu        sync.Mutex
}

// Router is the single process-wide inbound-message demultiplexer
// described in §4.3.2. There is exactly one Router per process; it is
// the "Shared-resource policy" singleton named in §5.
type Router struct {
	mu      sync.RWMutex
	byID    map[ID]*registration
	logger  *slog.Logger
}

// NewRouter creates a Router. Pass nil for a default slog logger.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		byID:   make(map[ID]*registration),
		logger: logger.With("component", "sandbox-router"),
	}
}

// RegisterSandbox must be called before the sandbox is created so that
// the first message from it is never lost (§4.3.2).
func (r *Router) RegisterSandbox(id ID, providers []Provider, consumers []Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = &registration{providers: providers, consumers: consumers}
}

// SetSandbox attaches the outbound channel (the running Sandbox) used by
// Respond, once the sandbox has actually been created. This is the
// equivalent of the spec's setSandboxIframe.
func (r *Router) SetSandbox(id ID, sb Sandbox) {
	r.mu.RLock()
	reg, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	reg.mu.Lock()
	reg.sandbox = sb
	reg.mu.Unlock()
}

// UnregisterSandbox removes a sandbox's registration.
func (r *Router) UnregisterSandbox(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// AddConsumer attaches a consumer that outlives a single sandbox message.
func (r *Router) AddConsumer(id ID, c Consumer) {
	r.mu.RLock()
	reg, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	reg.mu.Lock()
	reg.consumers = append(reg.consumers, c)
	reg.mu.Unlock()
}

// RemoveConsumer detaches a previously added consumer.
func (r *Router) RemoveConsumer(id ID, c Consumer) {
	r.mu.RLock()
	reg, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	filtered := reg.consumers[:0]
	for _, existing := range reg.consumers {
		if existing != c {
			filtered = append(filtered, existing)
		}
	}
	reg.consumers = filtered
}

// Route dispatches one inbound message per the algorithm in §4.3.2:
// every provider with a HandleMessage is invoked in registration order
// (none consumes), then every consumer is invoked (broadcast); handler
// panics/errors are logged and never stop the remaining handlers.
// Messages from a single sandbox are processed in arrival order because
// Route is expected to be called from the single consuming task
// described in §5 — callers MUST NOT call Route concurrently for the
// same sandbox id.
func (r *Router) Route(ctx context.Context, msg Message) {
	if msg.SandboxID == "" {
		r.logger.Debug("dropping message with no sandboxId", "type", msg.Type)
		return
	}

	r.mu.RLock()
	reg, ok := r.byID[msg.SandboxID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("dropping message for unknown sandbox", "sandbox_id", msg.SandboxID, "type", msg.Type)
		return
	}

	reg.mu.Lock()
	providers := append([]Provider(nil), reg.providers...)
	consumers := append([]Consumer(nil), reg.consumers...)
	sb := reg.sandbox
	reg.mu.Unlock()

	respond := Respond(func(reply json.RawMessage) error {
		if sb == nil {
			return nil
		}
		return sb.Send(ctx, Message{
			Type:      TypeRuntimeResponse,
			SandboxID: msg.SandboxID,
			MessageID: msg.MessageID,
			Payload:   reply,
		})
	})

	for _, p := range providers {
		handler, ok := p.(MessageHandler)
		if !ok {
			continue
		}
		r.invokeProvider(ctx, handler, msg, respond)
	}

	for _, c := range consumers {
		r.invokeConsumer(ctx, c, msg)
	}
}

func (r *Router) invokeProvider(ctx context.Context, h MessageHandler, msg Message, respond Respond) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("provider handler panicked", "panic", rec, "sandbox_id", msg.SandboxID)
		}
	}()
	if err := h.HandleMessage(ctx, msg, respond); err != nil {
		r.logger.Warn("provider handler error", "error", err, "sandbox_id", msg.SandboxID, "type", msg.Type)
	}
}

func (r *Router) invokeConsumer(ctx context.Context, c Consumer, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("consumer handler panicked", "panic", rec, "sandbox_id", msg.SandboxID)
		}
	}()
	if err := c.HandleMessage(ctx, msg); err != nil {
		r.logger.Warn("consumer handler error", "error", err, "sandbox_id", msg.SandboxID, "type", msg.Type)
	}
}
