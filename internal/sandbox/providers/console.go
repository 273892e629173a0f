package providers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/forgehq/engine/internal/sandbox"
)

// ConsoleProvider is the §4.3.3 "required" console provider: it installs
// globalThis.console inside a sandbox and buffers every console.* call,
// keyed by sandbox, for the host to read back once the run finishes
// (internal/sandbox/goja.Sandbox does this via the LogSource interface).
// Sharing capture through the router this way, instead of a backend
// hand-rolling its own console object, is what lets a future second
// backend reuse the exact same provider.
type ConsoleProvider struct {
	mu   sync.Mutex
	logs map[sandbox.ID][]string
}

// NewConsoleProvider constructs an empty console log buffer.
func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{logs: make(map[sandbox.ID][]string)}
}

func (p *ConsoleProvider) Name() string { return "console" }

// GetData injects nothing; console is installed entirely via
// RuntimeSource, the same pattern storeArtifact uses.
func (p *ConsoleProvider) GetData(ctx context.Context, id sandbox.ID) (any, error) {
	return nil, nil
}

func (p *ConsoleProvider) RuntimeSource() string {
	return `(sandboxId) => {
  const emit = (level) => function() {
    const parts = Array.prototype.slice.call(arguments).map(function(a) {
      return (typeof a === "string") ? a : JSON.stringify(a);
    });
    parent.postMessage({
      type: "console",
      sandboxId: sandboxId,
      payload: { level: level, message: parts.join(" ") },
    });
  };
  globalThis.console = {
    log: emit("log"),
    warn: emit("warn"),
    error: emit("error"),
    info: emit("info"),
  };
}`
}

type consolePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// HandleMessage buffers "console" messages; every other message type is
// ignored, per the router's broadcast-to-all-providers dispatch.
func (p *ConsoleProvider) HandleMessage(ctx context.Context, msg sandbox.Message, respond sandbox.Respond) error {
	if msg.Type != sandbox.TypeConsole {
		return nil
	}
	var entry consolePayload
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		return nil
	}
	p.mu.Lock()
	p.logs[msg.SandboxID] = append(p.logs[msg.SandboxID], entry.Level+": "+entry.Message)
	p.mu.Unlock()
	return nil
}

// Logs returns a snapshot of everything captured for sandbox id so far.
func (p *ConsoleProvider) Logs(id sandbox.ID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.logs[id]...)
}

// Forget drops a finished sandbox's buffered logs.
func (p *ConsoleProvider) Forget(id sandbox.ID) {
	p.mu.Lock()
	delete(p.logs, id)
	p.mu.Unlock()
}
