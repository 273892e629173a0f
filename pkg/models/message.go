// Package models defines the core data types shared across the engine:
// messages, content blocks, provider contracts, and session entries.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Message. Three canonical roles plus a
// small set of custom roles used for non-conversational transcript entries.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "toolResult"

	// Custom roles, never sent to a provider directly.
	RoleHookMessage    Role = "hookMessage"
	RoleBashExecution  Role = "bashExecution"
	RoleNavigation     Role = "navigation"
)

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockImage    BlockType = "image"
	BlockThinking BlockType = "thinking"
	BlockToolCall BlockType = "toolCall"
)

// ContentBlock is a tagged union over the block kinds an assistant message
// may contain. Only the field matching Type is populated; the others are
// omitted from the wire form. A struct-with-discriminator is used instead
// of an interface so JSONL round-trips are a single json.Marshal/Unmarshal
// rather than a custom per-variant codec.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage
	ImageBase64 string `json:"imageBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`

	// BlockThinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// BlockToolCall
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	ToolArgsJSON json.RawMessage `json:"toolArguments,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock { return ContentBlock{Type: BlockText, Text: text} }

// ThinkingBlock builds a thinking content block.
func ThinkingBlock(text, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: text, Signature: signature}
}

// ToolCallBlock builds a tool-call content block.
func ToolCallBlock(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolCall, ToolCallID: id, ToolName: name, ToolArgsJSON: args}
}

// ToolResultPayload is the content of a RoleToolResult message.
type ToolResultPayload struct {
	ToolCallID string         `json:"toolCallId"`
	Content    []ContentBlock `json:"content"`
	IsError    bool           `json:"isError,omitempty"`
}

// Message is the tagged union described in spec §3. TimestampMS is
// milliseconds since epoch, matching the wire contract of §6's session
// file format.
type Message struct {
	Role        Role               `json:"role"`
	Content     []ContentBlock     `json:"content,omitempty"`
	ToolResult  *ToolResultPayload `json:"toolResult,omitempty"`
	TimestampMS int64              `json:"timestamp"`

	// Populated only on assistant messages.
	Usage        *Usage      `json:"usage,omitempty"`
	StopReason   StopReason  `json:"stopReason,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Provider     string      `json:"provider,omitempty"`
	Model        string      `json:"model,omitempty"`
	API          string      `json:"api,omitempty"`
}

// NewUserMessage builds a user-role message from plain text.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}, TimestampMS: nowMS()}
}

// ToolCalls returns every toolCall block in the message, in order.
func (m Message) ToolCalls() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolCall {
			out = append(out, b)
		}
	}
	return out
}

func nowMS() int64 { return time.Now().UnixMilli() }

// MediaKind enumerates the input modalities a Model accepts.
type MediaKind string

const (
	MediaText  MediaKind = "text"
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// StopReason is the canonical terminal label for an assistant turn.
type StopReason string

const (
	StopStop    StopReason = "stop"
	StopLength  StopReason = "length"
	StopToolUse StopReason = "toolUse"
	StopSafety  StopReason = "safety"
	StopAborted StopReason = "aborted"
	StopError   StopReason = "error"
)

// ModelCost holds per-1e6-token pricing for one model.
type ModelCost struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cacheRead" yaml:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite" yaml:"cacheWrite"`
}

// Model describes one {provider, id} entry in the Model Registry.
type Model struct {
	ID             string      `json:"id" yaml:"id"`
	Name           string      `json:"name" yaml:"name"`
	Provider       string      `json:"provider" yaml:"provider"`
	API            string      `json:"api" yaml:"api"`
	BaseURL        string      `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Reasoning      bool        `json:"reasoning" yaml:"reasoning"`
	Input          []MediaKind `json:"input" yaml:"input"`
	Cost           ModelCost   `json:"cost" yaml:"cost"`
	ContextWindow  int         `json:"contextWindow" yaml:"contextWindow"`
	MaxTokens      int         `json:"maxTokens" yaml:"maxTokens"`
}

// SupportsVision reports whether the model accepts image input.
func (m Model) SupportsVision() bool { return m.hasInput(MediaImage) }

func (m Model) hasInput(k MediaKind) bool {
	for _, in := range m.Input {
		if in == k {
			return true
		}
	}
	return false
}

// UsageCost is the cost breakdown for one Usage record.
type UsageCost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// Usage is the token-count + cost record attached to an assistant message.
type Usage struct {
	Input      int       `json:"input"`
	Output     int       `json:"output"`
	CacheRead  int       `json:"cacheRead,omitempty"`
	CacheWrite int       `json:"cacheWrite,omitempty"`
	Cost       UsageCost `json:"cost"`
}

// ApplyCost computes cost fields in place from Model.Cost, per §4.1.3 and
// the cost-computation testable property in §8: total is the sum of each
// component, each component is price-per-1e6-tokens times token count.
func (u *Usage) ApplyCost(m Model) {
	const perMillion = 1_000_000.0
	u.Cost.Input = m.Cost.Input * float64(u.Input) / perMillion
	u.Cost.Output = m.Cost.Output * float64(u.Output) / perMillion
	u.Cost.CacheRead = m.Cost.CacheRead * float64(u.CacheRead) / perMillion
	u.Cost.CacheWrite = m.Cost.CacheWrite * float64(u.CacheWrite) / perMillion
	u.Cost.Total = u.Cost.Input + u.Cost.Output + u.Cost.CacheRead + u.Cost.CacheWrite
}

// ToolDescriptor describes a tool available to the model, per §6's Tool
// interface (name/description/parameters only — execute() lives outside
// this package, on the concrete tool implementation).
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Context is the canonical request shape handed to a Provider Adapter.
type Context struct {
	SystemPrompt string           `json:"systemPrompt,omitempty"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDescriptor `json:"tools,omitempty"`
}
