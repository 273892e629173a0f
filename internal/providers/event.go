package providers

import (
	"time"

	"github.com/forgehq/engine/pkg/models"
)

func nowMS() int64 { return time.Now().UnixMilli() }

// EventType discriminates Event variants (§4.1.1).
type EventType string

const (
	EventTextStart     EventType = "text_start"
	EventTextDelta     EventType = "text_delta"
	EventTextEnd       EventType = "text_end"
	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"
	EventToolCall      EventType = "toolCall"
	EventPartial       EventType = "partial"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// StreamStopReason narrows the terminal event's reason: "error" or "aborted"
// for the error variant; done events carry the full models.StopReason.
type StreamStopReason string

const (
	StreamReasonError   StreamStopReason = "error"
	StreamReasonAborted StreamStopReason = "aborted"
)

// Event is the tagged union a Provider Adapter emits onto an Event Stream.
// Exactly one payload field is populated, matching Type. A struct with a
// discriminator is used (matching pkg/models.ContentBlock's convention)
// rather than an interface, since channel elements need a single concrete
// type.
type Event struct {
	Type EventType

	// EventTextDelta, EventThinkingDelta
	Delta string

	// EventTextEnd, EventThinkingEnd: the finalized block content
	Content string

	// EventToolCall
	ToolCall *models.ContentBlock

	// EventPartial: a coalesced snapshot, emitted at the adapter's discretion
	Partial *models.Message

	// EventDone
	StopReason models.StopReason
	Message    *models.Message

	// EventError
	ErrorReason StreamStopReason
	Error       *models.Message
}

// Stream is a single-producer, single-consumer lazy sequence of Events
// terminated by exactly one EventDone or EventError (§4.1.1). It wraps a
// channel rather than exposing one directly so Close can be called
// idempotently by a consumer that stops iterating early (e.g. on
// cancellation) without a data race on the producer's send.
type Stream struct {
	events <-chan Event
	cancel func()
}

// NewStream constructs a Stream around a channel the adapter's goroutine
// writes to, paired with a cancel function forwarded from the caller's
// context (§5: all adapter I/O is a suspension point the Stream can abort).
func NewStream(events <-chan Event, cancel func()) *Stream {
	return &Stream{events: events, cancel: cancel}
}

// Events returns the channel of Events. The channel is closed by the
// producer after emitting exactly one EventDone or EventError.
func (s *Stream) Events() <-chan Event { return s.events }

// Cancel aborts the underlying request, if the adapter registered a
// cancellation hook. Safe to call multiple times.
func (s *Stream) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Collect drains the stream into a single terminal *models.Message, for
// callers (tests, the compaction engine's one-shot summarization call)
// that don't need incremental events. Returns the done/error message and
// whether the stream ended in EventDone (as opposed to EventError).
func Collect(s *Stream) (msg *models.Message, done bool) {
	for ev := range s.Events() {
		switch ev.Type {
		case EventDone:
			return ev.Message, true
		case EventError:
			return ev.Error, false
		}
	}
	return nil, false
}

// accumulator tracks the in-progress content blocks of a streaming
// response so an adapter can emit EventDone with a fully assembled
// models.Message. Adapters own one accumulator per stream.
type accumulator struct {
	blocks []models.ContentBlock

	textBuf     []byte
	thinkingBuf []byte
	thinkingSig string

	toolCallID   string
	toolCallName string
	toolArgsBuf  []byte
}

func newAccumulator() *accumulator { return &accumulator{} }

func (a *accumulator) startText()  {}
func (a *accumulator) appendText(delta string) {
	a.textBuf = append(a.textBuf, delta...)
}
func (a *accumulator) endText() string {
	s := string(a.textBuf)
	if s != "" {
		a.blocks = append(a.blocks, models.TextBlock(s))
	}
	a.textBuf = a.textBuf[:0]
	return s
}

func (a *accumulator) startThinking() {}
func (a *accumulator) appendThinking(delta string) {
	a.thinkingBuf = append(a.thinkingBuf, delta...)
}
func (a *accumulator) endThinking(signature string) string {
	s := string(a.thinkingBuf)
	a.blocks = append(a.blocks, models.ThinkingBlock(s, signature))
	a.thinkingBuf = a.thinkingBuf[:0]
	return s
}

func (a *accumulator) startToolCall(id, name string) {
	a.toolCallID = id
	a.toolCallName = name
	a.toolArgsBuf = a.toolArgsBuf[:0]
}

func (a *accumulator) appendToolArgs(delta string) {
	a.toolArgsBuf = append(a.toolArgsBuf, delta...)
}

func (a *accumulator) endToolCall() models.ContentBlock {
	args := append([]byte(nil), a.toolArgsBuf...)
	if len(args) == 0 {
		args = []byte("{}")
	}
	block := models.ToolCallBlock(a.toolCallID, a.toolCallName, args)
	a.blocks = append(a.blocks, block)
	a.toolCallID, a.toolCallName = "", ""
	a.toolArgsBuf = a.toolArgsBuf[:0]
	return block
}

func (a *accumulator) message(stopReason models.StopReason, provider, model, api string, usage *models.Usage, errMsg string) *models.Message {
	return &models.Message{
		Role:         models.RoleAssistant,
		Content:      a.blocks,
		TimestampMS:  nowMS(),
		Usage:        usage,
		StopReason:   stopReason,
		ErrorMessage: errMsg,
		Provider:     provider,
		Model:        model,
		API:          api,
	}
}
