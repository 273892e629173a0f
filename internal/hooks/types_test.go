package hooks

import (
	"errors"
	"testing"
	"time"

	"github.com/forgehq/engine/pkg/models"
)

func TestEventType_Constants(t *testing.T) {
	tests := []struct {
		name     string
		event    EventType
		expected string
	}{
		{"BeforeAgentStart", EventBeforeAgentStart, "before_agent_start"},
		{"AgentStart", EventAgentStart, "agent_start"},
		{"TurnStart", EventTurnStart, "turn_start"},
		{"Context", EventContext, "context"},
		{"ToolCall", EventToolCall, "tool_call"},
		{"ToolResult", EventToolResult, "tool_result"},
		{"TurnEnd", EventTurnEnd, "turn_end"},
		{"AgentEnd", EventAgentEnd, "agent_end"},
		{"SessionBeforeSwitch", EventSessionBeforeSwitch, "session_before_switch"},
		{"SessionBeforeCompact", EventSessionBeforeCompact, "session_before_compact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.event) != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, tt.event)
			}
		})
	}
}

func TestPriority_Constants(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		expected Priority
	}{
		{"Highest", PriorityHighest, 0},
		{"High", PriorityHigh, 25},
		{"Normal", PriorityNormal, 50},
		{"Low", PriorityLow, 75},
		{"Lowest", PriorityLowest, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.priority != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, tt.priority)
			}
		})
	}

	if !(PriorityHighest < PriorityHigh && PriorityHigh < PriorityNormal &&
		PriorityNormal < PriorityLow && PriorityLow < PriorityLowest) {
		t.Error("priority constants are not in proper order")
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventTurnStart)

	if event.Type != EventTurnStart {
		t.Errorf("expected type %s, got %s", EventTurnStart, event.Type)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if event.Context == nil {
		t.Error("expected non-nil context map")
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be recent")
	}
}

func TestEvent_WithSession(t *testing.T) {
	event := NewEvent(EventTurnStart)
	sessionID := "session-12345"

	result := event.WithSession(sessionID)

	if result != event {
		t.Error("expected same event instance for chaining")
	}
	if event.SessionID != sessionID {
		t.Errorf("expected session %s, got %s", sessionID, event.SessionID)
	}
}

func TestEvent_WithMessage(t *testing.T) {
	event := NewEvent(EventTurnEnd)
	msg := &models.Message{Role: models.RoleAssistant, Content: []models.ContentBlock{models.TextBlock("hi")}}

	result := event.WithMessage(msg)

	if result != event {
		t.Error("expected same event instance for chaining")
	}
	if event.Message != msg {
		t.Error("expected message to be set")
	}
}

func TestEvent_WithContext(t *testing.T) {
	event := NewEvent(EventTurnStart)

	event.WithContext("key1", "value1")
	if event.Context["key1"] != "value1" {
		t.Error("expected key1 to be set")
	}

	event.WithContext("key2", 42)
	if event.Context["key2"] != 42 {
		t.Error("expected key2 to be set")
	}

	if len(event.Context) < 2 {
		t.Errorf("expected at least 2 context entries, got %d", len(event.Context))
	}
}

func TestEvent_WithContext_NilContext(t *testing.T) {
	event := &Event{Type: EventTurnStart, Context: nil}

	event.WithContext("key", "value")

	if event.Context == nil {
		t.Error("expected context to be initialized")
	}
	if event.Context["key"] != "value" {
		t.Error("expected key to be set")
	}
}

func TestEvent_WithError(t *testing.T) {
	event := NewEvent(EventAgentEnd)
	err := errors.New("something went wrong")

	result := event.WithError(err)

	if result != event {
		t.Error("expected same event instance for chaining")
	}
	if event.Error != err {
		t.Error("expected error to be set")
	}
	if event.ErrorMsg != "something went wrong" {
		t.Errorf("expected error msg 'something went wrong', got %s", event.ErrorMsg)
	}
}

func TestEvent_WithError_Nil(t *testing.T) {
	event := NewEvent(EventAgentEnd)

	event.WithError(nil)

	if event.Error != nil {
		t.Error("expected nil error")
	}
	if event.ErrorMsg != "" {
		t.Error("expected empty error message")
	}
}

func TestEvent_ChainedBuilders(t *testing.T) {
	err := errors.New("test error")
	msg := &models.Message{Role: models.RoleAssistant}

	event := NewEvent(EventAgentEnd).
		WithSession("session-abc").
		WithMessage(msg).
		WithContext("retry_count", 3).
		WithContext("model", "claude-3").
		WithError(err)

	if event.Type != EventAgentEnd {
		t.Error("type mismatch")
	}
	if event.SessionID != "session-abc" {
		t.Error("session mismatch")
	}
	if event.Message != msg {
		t.Error("message mismatch")
	}
	if event.Context["retry_count"] != 3 {
		t.Error("context retry_count mismatch")
	}
	if event.Context["model"] != "claude-3" {
		t.Error("context model mismatch")
	}
	if event.Error != err {
		t.Error("error mismatch")
	}
}

func TestFilter_Matches_SessionIDs(t *testing.T) {
	tests := []struct {
		name   string
		filter *Filter
		event  *Event
		want   bool
	}{
		{
			name:   "session filter matches",
			filter: &Filter{SessionIDs: []string{"s1", "s2"}},
			event:  NewEvent(EventTurnStart).WithSession("s1"),
			want:   true,
		},
		{
			name:   "session filter does not match",
			filter: &Filter{SessionIDs: []string{"s3"}},
			event:  NewEvent(EventTurnStart).WithSession("s1"),
			want:   false,
		},
		{
			name:   "empty session ids matches all",
			filter: &Filter{SessionIDs: []string{}},
			event:  NewEvent(EventTurnStart).WithSession("s1"),
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Filter.Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_Matches_CombinedFilters(t *testing.T) {
	filter := &Filter{
		EventTypes: []EventType{EventTurnStart, EventTurnEnd},
		SessionIDs: []string{"session-1"},
	}

	tests := []struct {
		name  string
		event *Event
		want  bool
	}{
		{
			name:  "all filters match",
			event: NewEvent(EventTurnStart).WithSession("session-1"),
			want:  true,
		},
		{
			name:  "event type does not match",
			event: NewEvent(EventAgentStart).WithSession("session-1"),
			want:  false,
		},
		{
			name:  "session id does not match",
			event: NewEvent(EventTurnStart).WithSession("session-2"),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filter.Matches(tt.event); got != tt.want {
				t.Errorf("Filter.Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistration_Fields(t *testing.T) {
	reg := &Registration{
		ID:       "reg-123",
		EventKey: "turn_start",
		Priority: PriorityHigh,
		Name:     "TestHandler",
		Source:   "test-plugin",
	}

	if reg.ID != "reg-123" {
		t.Error("ID mismatch")
	}
	if reg.EventKey != "turn_start" {
		t.Error("EventKey mismatch")
	}
	if reg.Priority != PriorityHigh {
		t.Error("Priority mismatch")
	}
	if reg.Name != "TestHandler" {
		t.Error("Name mismatch")
	}
	if reg.Source != "test-plugin" {
		t.Error("Source mismatch")
	}
}
