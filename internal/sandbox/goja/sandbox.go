// Package goja implements an AST-interpreted JS sandbox backend: user
// code runs inside a dedicated goja.Runtime with no access to host
// globals beyond what providers inject through GetData.
package goja

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/forgehq/engine/internal/sandbox"
)

// Sandbox runs one isolated goja VM per instance. Every Sandbox gets its
// own goja.Runtime so two sandboxes never share interpreter state.
type Sandbox struct {
	id        sandbox.ID
	router    *sandbox.Router
	providers []sandbox.Provider
	logger    *slog.Logger
	vm        *goja.Runtime
	inbound   chan sandbox.Message // host -> sandbox (runtime-response, cancel)
	logs      []string
	logsMu    sync.Mutex
	done      chan *sandbox.ExecutionResult
	closeOne  sync.Once
}

// New creates a goja sandbox registered under id. providers' GetData and
// RuntimeSource are installed before the caller's Run is invoked; this
// must be the same provider list passed to Router.RegisterSandbox.
func New(id sandbox.ID, router *sandbox.Router, providers []sandbox.Provider, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{
		id:        id,
		router:    router,
		providers: providers,
		logger:    logger.With("component", "goja-sandbox", "sandbox_id", string(id)),
		vm:        goja.New(),
		inbound:   make(chan sandbox.Message, 16),
		done:      make(chan *sandbox.ExecutionResult, 1),
	}
}

func (s *Sandbox) ID() sandbox.ID { return s.id }

// Send delivers a host -> sandbox message (typically a runtime-response
// reply to a pending runtime-request promise).
func (s *Sandbox) Send(ctx context.Context, msg sandbox.Message) error {
	select {
	case s.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the goroutine watching s.inbound. Safe to call more
// than once.
func (s *Sandbox) Close() error {
	s.closeOne.Do(func() { close(s.inbound) })
	return nil
}

// Run installs every provider's injected data/runtime, evaluates
// userSource, and blocks until a terminal event occurs or the host's
// soft timeout fires.
func (s *Sandbox) Run(ctx context.Context, userSource string) (*sandbox.ExecutionResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, sandbox.ExecutionTimeout)
	defer cancel()

	if err := s.bootstrap(runCtx, s.providers); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	go s.pumpInbound(runCtx)

	if _, err := s.vm.RunString(userSource); err != nil {
		return s.finish(&sandbox.ExecutionResult{Success: false, Error: err.Error()}), nil
	}

	select {
	case res := <-s.done:
		return res, nil
	case <-time.After(sandbox.AutoCompleteDelay):
		return s.finish(&sandbox.ExecutionResult{Success: true}), nil
	case <-runCtx.Done():
		return s.finish(&sandbox.ExecutionResult{Success: false, Error: "execution timeout"}), nil
	}
}

// finish fills in Logs/Files from a registered console/downloadable-file
// provider (or the built-in fallback console if none was registered)
// before delivering the terminal result.
func (s *Sandbox) finish(res *sandbox.ExecutionResult) *sandbox.ExecutionResult {
	if res.Logs == nil {
		res.Logs = s.snapshotLogs()
	}
	if res.Files == nil {
		res.Files = s.snapshotFiles()
	}
	select {
	case s.done <- res:
	default:
	}
	return res
}

// bootstrap wires console capture, complete()/sendRuntimeMessage, and
// every provider's injected data/runtime into the VM's global scope:
// assign injected data, run each provider's runtime source, then the
// caller evaluates user code. Console capture is normally supplied by a
// registered console Provider (§4.3.3) so it is shared through the
// router like every other capability; installFallbackConsole only runs
// when the caller didn't register one, so a sandbox with no providers at
// all still has a usable console.
func (s *Sandbox) bootstrap(ctx context.Context, providers []sandbox.Provider) error {
	if err := s.installMessaging(ctx); err != nil {
		return err
	}

	hasConsoleProvider := false
	for _, p := range providers {
		data, err := p.GetData(ctx, s.id)
		if err != nil {
			return fmt.Errorf("provider %s GetData: %w", p.Name(), err)
		}
		if data != nil {
			if err := s.vm.Set(p.Name(), data); err != nil {
				return fmt.Errorf("provider %s inject: %w", p.Name(), err)
			}
		}
		if src := p.RuntimeSource(); src != "" {
			wrapped := fmt.Sprintf("(%s)(%q);", src, s.id)
			if _, err := s.vm.RunString(wrapped); err != nil {
				return fmt.Errorf("provider %s runtime: %w", p.Name(), err)
			}
		}
		if p.Name() == "console" {
			hasConsoleProvider = true
		}
	}

	if !hasConsoleProvider {
		if err := s.installFallbackConsole(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sandbox) installFallbackConsole() error {
	console := s.vm.NewObject()
	capture := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				parts = append(parts, a.String())
			}
			s.appendLog(level, parts)
			return goja.Undefined()
		}
	}
	_ = console.Set("log", capture("log"))
	_ = console.Set("warn", capture("warn"))
	_ = console.Set("error", capture("error"))
	_ = console.Set("info", capture("info"))
	return s.vm.Set("console", console)
}

func (s *Sandbox) appendLog(level string, parts []string) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	line := level + ": "
	for i, p := range parts {
		if i > 0 {
			line += " "
		}
		line += p
	}
	s.logs = append(s.logs, line)
}

// snapshotLogs prefers a registered console provider's captured logs
// over the fallback console's own buffer, so a host that wires a real
// console.Provider sees the exact same logs from either path.
func (s *Sandbox) snapshotLogs() []string {
	for _, p := range s.providers {
		if ls, ok := p.(sandbox.LogSource); ok {
			return ls.Logs(s.id)
		}
	}
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	return append([]string(nil), s.logs...)
}

// snapshotFiles collects files a registered downloadable-file provider
// captured during this run via returnFile().
func (s *Sandbox) snapshotFiles() []sandbox.File {
	for _, p := range s.providers {
		if fs, ok := p.(sandbox.FileSource); ok {
			return fs.Files(s.id)
		}
	}
	return nil
}

// installMessaging wires complete(), postMessage-equivalent routing to
// the host Router, and a sendRuntimeMessage(payload) helper that
// providers' injected runtime source can call for bidirectional RPC.
func (s *Sandbox) installMessaging(ctx context.Context) error {
	var completed sync.Once
	completeFn := func(call goja.FunctionCall) goja.Value {
		completed.Do(func() {
			errArg := ""
			success := true
			if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) && !goja.IsNull(call.Arguments[0]) {
				errArg = call.Arguments[0].String()
				success = false
			}
			s.finish(&sandbox.ExecutionResult{Success: success, Error: errArg})
		})
		// A second call to complete() is a no-op.
		return goja.Undefined()
	}
	if err := s.vm.Set("complete", completeFn); err != nil {
		return err
	}

	postMessage := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		raw, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			return goja.Undefined()
		}
		var msg sandbox.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return goja.Undefined()
		}
		msg.SandboxID = s.id
		s.router.Route(ctx, msg)
		return goja.Undefined()
	}
	if err := s.vm.Set("sendRuntimeMessage", postMessage); err != nil {
		return err
	}
	parentObj := s.vm.NewObject()
	_ = parentObj.Set("postMessage", postMessage)
	return s.vm.Set("parent", parentObj)
}

func (s *Sandbox) pumpInbound(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.inbound:
			if !ok {
				return
			}
			s.deliverToSandbox(msg)
		case <-ctx.Done():
			return
		}
	}
}

// deliverToSandbox invokes the VM's onRuntimeMessage callback if the
// injected runtime registered one, matching the runtime-response leg of
// the RPC round trip.
func (s *Sandbox) deliverToSandbox(msg sandbox.Message) {
	cb := s.vm.Get("__onRuntimeMessage")
	fn, ok := goja.AssertFunction(cb)
	if !ok {
		return
	}
	payload := s.vm.ToValue(json.RawMessage(msg.Payload))
	if _, err := fn(goja.Undefined(), payload); err != nil {
		s.logger.Warn("runtime message callback failed", "error", err)
	}
}
