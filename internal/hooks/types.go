// Package hooks provides the Agent Loop's (§4.4) event-driven extension
// points: before_agent_start, agent_start, turn_start, context, tool_call,
// tool_result, turn_end, agent_end, plus session lifecycle
// (session_before_switch, session_before_compact). Every handler is async.
// tool_call is the only event that can block (with a reason); context is
// the only one that can rewrite the projected messages; all others are
// advisory.
package hooks

import (
	"context"
	"time"

	"github.com/forgehq/engine/pkg/models"
)

// EventType identifies one of the Agent Loop's named extension points.
type EventType string

const (
	// EventBeforeAgentStart fires once, before the loop's first turn.
	EventBeforeAgentStart EventType = "before_agent_start"

	// EventAgentStart fires when a run begins processing.
	EventAgentStart EventType = "agent_start"

	// EventTurnStart fires at the top of every user turn.
	EventTurnStart EventType = "turn_start"

	// EventContext fires just before the projected SessionContext is sent
	// to the provider adapter. The only event whose handler may rewrite
	// the outgoing messages.
	EventContext EventType = "context"

	// EventToolCall fires once per requested tool call, before dispatch.
	// The only event whose handler may block execution with a reason.
	EventToolCall EventType = "tool_call"

	// EventToolResult fires once a tool call produces a result, before it
	// is appended to the session. May rewrite the result.
	EventToolResult EventType = "tool_result"

	// EventTurnEnd fires when a turn reaches a terminal stop reason.
	EventTurnEnd EventType = "turn_end"

	// EventAgentEnd fires once the loop returns to Idle for good.
	EventAgentEnd EventType = "agent_end"

	// EventSessionBeforeSwitch fires before the loop adopts a different
	// session (continue/resume/branch).
	EventSessionBeforeSwitch EventType = "session_before_switch"

	// EventSessionBeforeCompact fires before a compaction entry is
	// appended to a session (§4.2.5).
	EventSessionBeforeCompact EventType = "session_before_compact"
)

// Event carries the payload for one hook dispatch. Only the fields
// relevant to Type are populated.
type Event struct {
	// Type is the extension point this event was dispatched for.
	Type EventType `json:"type"`

	// SessionID identifies the session this event relates to.
	SessionID string `json:"session_id,omitempty"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Messages carries the projected SessionContext messages for
	// EventContext; handlers may replace this slice to rewrite what the
	// adapter sees.
	Messages []models.Message `json:"messages,omitempty"`

	// ToolCall carries the pending tool call for EventToolCall.
	ToolCall *models.ContentBlock `json:"tool_call,omitempty"`

	// Blocked and BlockReason are set by an EventToolCall handler to
	// prevent dispatch.
	Blocked     bool   `json:"blocked,omitempty"`
	BlockReason string `json:"block_reason,omitempty"`

	// ToolResult carries the result for EventToolResult; handlers may
	// replace it to rewrite what gets appended to the session.
	ToolResult *models.ToolResultPayload `json:"tool_result,omitempty"`

	// Message carries the final assistant message for EventTurnEnd /
	// EventAgentEnd.
	Message *models.Message `json:"message,omitempty"`

	// Context holds additional event-specific data (e.g. branchBeforeIndex
	// for session_before_switch, firstKeptEntryIndex for
	// session_before_compact).
	Context map[string]any `json:"context,omitempty"`

	// Error if this is an error-adjacent event.
	Error    error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// Handler is a function that processes hook events. Handlers should be
// fast; long-running operations should dispatch to goroutines themselves.
// Only an EventToolCall handler's Blocked/BlockReason and an EventContext
// handler's Messages are honored by the loop — every other mutation is
// advisory and ignored.
type Handler func(ctx context.Context, event *Event) error

// Priority determines the order handlers are called.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration represents a registered hook handler.
type Registration struct {
	// ID is a unique identifier for this registration
	ID string

	// EventKey is the event type this handler listens for
	EventKey string

	// Handler is the function to call
	Handler Handler

	// Priority determines call order (lower = earlier)
	Priority Priority

	// Name is a human-readable name for debugging
	Name string

	// Source identifies where this handler came from (a HOOK.md path, etc)
	Source string
}

// Filter allows selective event handling.
type Filter struct {
	// EventTypes to include (empty = all)
	EventTypes []EventType

	// SessionIDs to include (empty = all)
	SessionIDs []string
}

// Matches checks if an event matches the filter.
func (f *Filter) Matches(event *Event) bool {
	if f == nil {
		return true
	}

	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.SessionIDs) > 0 {
		found := false
		for _, id := range f.SessionIDs {
			if id == event.SessionID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// NewEvent creates a new event of the given type with timestamp set.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithSession sets the session id on the event.
func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

// WithMessage sets the terminal message on the event.
func (e *Event) WithMessage(msg *models.Message) *Event {
	e.Message = msg
	return e
}

// WithContext adds context data to the event.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithError sets the error on the event.
func (e *Event) WithError(err error) *Event {
	e.Error = err
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}
