// Package sandbox implements the isolated JavaScript execution contract
// (§4.3.1) and the single process-wide Runtime Message Router (§4.3.2).
// internal/sandbox/goja is the one backend this module ships that
// satisfies the Sandbox interface; see DESIGN.md for why a microVM
// backend isn't provided.
package sandbox

import (
	"context"
	"encoding/json"
	"time"
)

// ID uniquely identifies one sandbox instance within the process.
type ID string

// AutoCompleteDelay is how long the host waits for user code to call
// complete() before synthesizing completion itself, per §4.3.1.
const AutoCompleteDelay = 2 * time.Second

// ExecutionTimeout is the host-enforced soft timeout on a sandbox run,
// per §5's "sandbox execution has a soft 30s timeout" clause.
const ExecutionTimeout = 30 * time.Second

// Message is the envelope exchanged between a sandbox and the host, per
// §6's sandbox message envelope: {type, sandboxId, ...}. Requests carry a
// MessageID; the host replies with type "runtime-response".
type Message struct {
	Type      string          `json:"type"`
	SandboxID ID              `json:"sandboxId"`
	MessageID string          `json:"messageId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Terminal message types sent sandbox -> host, per §4.3.3.
const (
	TypeConsole           = "console"
	TypeExecutionComplete = "execution-complete"
	TypeExecutionError    = "execution-error"
	TypeFileReturned      = "file-returned"
	TypeRuntimeRequest    = "runtime-request"
	TypeRuntimeResponse   = "runtime-response"
)

// Respond sends a reply to a runtime-request back into the sandbox that
// issued it. It is the bidirectional-RPC primitive described in §4.3.2.
type Respond func(reply json.RawMessage) error

// Provider is a capability injected into every sandbox a host creates. It
// exposes three hooks per §4.3.3.
type Provider interface {
	// Name identifies the provider for logging and registration order.
	Name() string

	// GetData returns a JSON-serializable object injected into the
	// sandbox's global scope before user code runs.
	GetData(ctx context.Context, id ID) (any, error)

	// RuntimeSource returns the JS source of a function (sandboxId) =>
	// void that is evaluated inside the sandbox. Its body MUST NOT close
	// over host-side values — only sandboxId and injected data are
	// available to it, and all communication back to the host happens
	// through postMessage/sendRuntimeMessage.
	RuntimeSource() string
}

// MessageHandler is implemented by providers and consumers that want to
// see messages from a sandbox. Providers additionally get a Respond
// callback to answer runtime-request messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message, respond Respond) error
}

// Consumer is a handler that outlives any single sandbox message; it is
// broadcast every inbound message for sandboxes it subscribes to and
// never consumes (per §4.3.2 step 3).
type Consumer interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// ExecutionResult is what the host returns once a sandbox reaches a
// terminal state (§4.3.3's execution protocol).
type ExecutionResult struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs"`
	Files   []File   `json:"files,omitempty"`
	Error   string   `json:"error,omitempty"`
	Stack   string   `json:"stack,omitempty"`
}

// File is a downloadable file returned via the downloadable-file
// provider's returnFile() call.
type File struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

// Sandbox is one isolated execution context. Any backend a host adds
// implements this from the router's point of view; internal/sandbox/goja
// is the only one this module ships.
type Sandbox interface {
	ID() ID

	// Run starts execution of the given user JS source after injecting
	// every provider's data and runtime, and returns once a terminal
	// event (execution-complete/execution-error) arrives or
	// ExecutionTimeout elapses.
	Run(ctx context.Context, userSource string) (*ExecutionResult, error)

	// Send delivers a host -> sandbox message, used to deliver
	// runtime-response replies and cancellation notices.
	Send(ctx context.Context, msg Message) error

	// Close tears down the sandbox's resources.
	Close() error
}

// LogSource lets a backend delegate console-log capture to a shared
// Provider (the console provider, §4.3.3) rather than reimplementing
// console.* buffering itself.
type LogSource interface {
	Logs(id ID) []string
}

// FileSource lets a backend collect the files a sandbox execution
// returned via returnFile() from a shared Provider (the
// downloadable-file provider, §4.3.3).
type FileSource interface {
	Files(id ID) []File
}
