package hooks

import (
	"context"

	"github.com/forgehq/engine/pkg/models"
)

// GateToolCall dispatches an EventToolCall for one pending tool call and
// reports whether a handler blocked it (§4.4: "tool_call is the only event
// that can block, with a reason"). Every registered handler runs; the
// event's final Blocked/BlockReason is whatever the last handler to touch
// it left behind.
func GateToolCall(ctx context.Context, registry *Registry, sessionID string, call models.ContentBlock) (blocked bool, reason string, err error) {
	if registry == nil {
		registry = Global()
	}
	event := NewEvent(EventToolCall).WithSession(sessionID)
	event.ToolCall = &call
	if err := registry.Trigger(ctx, event); err != nil {
		return false, "", err
	}
	return event.Blocked, event.BlockReason, nil
}

// RewriteToolResult dispatches an EventToolResult for a completed tool
// call, returning the (possibly handler-rewritten) result that should be
// appended to the session.
func RewriteToolResult(ctx context.Context, registry *Registry, sessionID string, call models.ContentBlock, result models.ToolResultPayload) (models.ToolResultPayload, error) {
	if registry == nil {
		registry = Global()
	}
	event := NewEvent(EventToolResult).WithSession(sessionID)
	event.ToolCall = &call
	event.ToolResult = &result
	if err := registry.Trigger(ctx, event); err != nil {
		return result, err
	}
	if event.ToolResult != nil {
		return *event.ToolResult, nil
	}
	return result, nil
}

// RunAdvisory dispatches an advisory event type — before_agent_start,
// agent_start, turn_start, turn_end, agent_end, session_before_switch, and
// session_before_compact are all fire-and-forget per §4.4.
func RunAdvisory(ctx context.Context, registry *Registry, eventType EventType, sessionID string, configure func(*Event)) {
	if registry == nil {
		registry = Global()
	}
	event := NewEvent(eventType).WithSession(sessionID)
	if configure != nil {
		configure(event)
	}
	registry.TriggerAsync(ctx, event)
}

// RunContext dispatches the EventContext hook and returns the (possibly
// rewritten) messages that should be sent to the provider adapter — the
// only hook point permitted to rewrite outgoing messages (§4.4).
func RunContext(ctx context.Context, registry *Registry, sessionID string, messages []models.Message) ([]models.Message, error) {
	if registry == nil {
		registry = Global()
	}
	event := NewEvent(EventContext).WithSession(sessionID)
	event.Messages = messages
	if err := registry.Trigger(ctx, event); err != nil {
		return messages, err
	}
	if event.Messages != nil {
		return event.Messages, nil
	}
	return messages, nil
}
