// Package agent implements the thin Agent Loop described in spec §4.4: one
// user message in, provider streamed, tools dispatched (optionally
// serialized), results fed back, repeat until a turn reaches a terminal
// stop reason. Everything heavier — retries, hooks, sandboxed execution —
// is delegated to internal/retry, internal/hooks, and internal/sandbox
// rather than reimplemented here.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgehq/engine/internal/hooks"
	"github.com/forgehq/engine/internal/providers"
	"github.com/forgehq/engine/internal/retry"
	"github.com/forgehq/engine/internal/sessions"
	"github.com/forgehq/engine/pkg/models"
)

// LoopConfig configures one AgenticLoop's iteration and tool-dispatch
// behavior, sourced from config.ToolsConfig (§4.4's ambient config layer).
type LoopConfig struct {
	// MaxIterations bounds how many stream/dispatch-tools cycles one Run
	// performs before giving up with ErrMaxIterations.
	MaxIterations int

	// MaxTokens caps the provider's response length.
	MaxTokens int

	// SerializeTools resolves spec.md §9's open question: dispatch a
	// turn's tool calls one at a time instead of concurrently.
	SerializeTools bool

	// ToolTimeout bounds a single tool's Execute call.
	ToolTimeout time.Duration

	// Retry governs retrying a failed (non-tool-error) stream call.
	Retry retry.Config

	// ExtensionsDisabled selects providers.StreamFor's streamSimple path
	// when true (no hook-driven Context rewriting at the adapter level).
	ExtensionsDisabled bool

	// ReasoningEffort is passed through to every streamed call's
	// providers.Options (§6's --thinking flag: off|low|medium|high).
	ReasoningEffort string
}

// DefaultLoopConfig returns the loop's baseline configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 50,
		MaxTokens:     4096,
		ToolTimeout:   2 * time.Minute,
		Retry:         retry.DefaultConfig(),
	}
}

// AgenticLoop drives one model + tool registry against session storage. It
// is deliberately thin: almost everything it does is projecting session
// state into a models.Context, calling providers.StreamFor, and routing
// tool calls through hooks and the ToolRegistry.
type AgenticLoop struct {
	model    models.Model
	registry *ToolRegistry
	hooks    *hooks.Registry
	config   LoopConfig
	logger   *slog.Logger

	seq atomic.Uint64
}

// NewAgenticLoop constructs a loop bound to one model, tool registry, and
// hook registry. A nil registry yields an empty ToolRegistry; a nil hook
// registry falls back to hooks.Global().
func NewAgenticLoop(model models.Model, registry *ToolRegistry, hookRegistry *hooks.Registry, config LoopConfig) *AgenticLoop {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultLoopConfig().MaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultLoopConfig().MaxTokens
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = DefaultLoopConfig().ToolTimeout
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.DefaultConfig()
	}
	return &AgenticLoop{
		model:    model,
		registry: registry,
		hooks:    hookRegistry,
		config:   config,
		logger:   slog.Default().With("component", "agent.loop"),
	}
}

func (l *AgenticLoop) hookRegistry() *hooks.Registry {
	if l.hooks != nil {
		return l.hooks
	}
	return hooks.Global()
}

func (l *AgenticLoop) nextSeq() uint64 { return l.seq.Add(1) }

// Sink receives AgentEvents emitted over the course of a Run, the run-level
// observability layer carried alongside the Event Stream per SPEC_FULL
// §4.4. A nil Sink is valid; events are simply dropped.
type Sink func(*models.AgentEvent)

func (l *AgenticLoop) emit(sink Sink, runID string, turn, iter int, ev *models.AgentEvent) {
	if sink == nil || ev == nil {
		return
	}
	ev.Version = 1
	ev.Time = time.Now()
	ev.Sequence = l.nextSeq()
	ev.RunID = runID
	ev.TurnIndex = turn
	ev.IterIndex = iter
	sink(ev)
}

// Run processes one inbound user message against sess: append it, stream
// the model's response, dispatch any requested tools, and repeat until a
// turn produces no further tool calls or MaxIterations is reached. It
// returns the final assistant message.
func (l *AgenticLoop) Run(ctx context.Context, sess *sessions.Session, userMessage models.Message, sink Sink) (*models.Message, error) {
	if sess == nil {
		return nil, fmt.Errorf("agent: session is nil")
	}
	runID := sess.ID()
	registry := l.hookRegistry()

	hooks.RunAdvisory(ctx, registry, hooks.EventBeforeAgentStart, sess.ID(), nil)
	hooks.RunAdvisory(ctx, registry, hooks.EventAgentStart, sess.ID(), nil)
	defer hooks.RunAdvisory(ctx, registry, hooks.EventAgentEnd, sess.ID(), nil)

	if userMessage.TimestampMS == 0 {
		userMessage.TimestampMS = time.Now().UnixMilli()
	}
	if err := sess.Append(models.NewMessageEntry(userMessage)); err != nil {
		return nil, fmt.Errorf("agent: append user message: %w", err)
	}

	hooks.RunAdvisory(ctx, registry, hooks.EventTurnStart, sess.ID(), func(e *hooks.Event) {
		e.Message = &userMessage
	})

	var final *models.Message

	for iter := 0; iter < l.config.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		l.emit(sink, runID, 0, iter, &models.AgentEvent{Type: models.AgentEventIterStarted})

		msg, toolCalls, err := l.streamTurn(ctx, sess, iter, sink)
		if err != nil {
			l.emit(sink, runID, 0, iter, &models.AgentEvent{Type: models.AgentEventRunError, Error: &models.ErrorEventPayload{Message: err.Error(), Err: err}})
			return nil, &LoopError{Phase: PhaseStream, Iteration: iter, Cause: err}
		}

		if err := sess.Append(models.NewMessageEntry(*msg)); err != nil {
			return nil, fmt.Errorf("agent: append assistant message: %w", err)
		}
		final = msg

		if msg.StopReason != models.StopToolUse || len(toolCalls) == 0 {
			hooks.RunAdvisory(ctx, registry, hooks.EventTurnEnd, sess.ID(), func(e *hooks.Event) {
				e.Message = msg
			})
			l.emit(sink, runID, 0, iter, &models.AgentEvent{Type: models.AgentEventTurnFinished})
			return msg, nil
		}

		if err := l.dispatchTools(ctx, sess, toolCalls, sink, runID, iter); err != nil {
			return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: iter, Cause: err}
		}

		l.emit(sink, runID, 0, iter, &models.AgentEvent{Type: models.AgentEventIterFinished})
	}

	return final, &LoopError{Phase: PhaseStream, Iteration: l.config.MaxIterations, Cause: ErrMaxIterations}
}

// streamTurn projects the session, runs the context hook, and streams one
// model response, returning the assembled message and its tool calls.
func (l *AgenticLoop) streamTurn(ctx context.Context, sess *sessions.Session, iter int, sink Sink) (*models.Message, []models.ContentBlock, error) {
	projected := sessions.Project(sess.Entries())

	messages, err := hooks.RunContext(ctx, l.hookRegistry(), sess.ID(), projected.Messages)
	if err != nil {
		l.logger.Warn("context hook failed", "error", err)
		messages = projected.Messages
	}

	reqCtx := models.Context{
		Messages: messages,
		Tools:    l.registry.Descriptors(),
	}

	opts := providers.Options{MaxTokens: l.config.MaxTokens, ReasoningEffort: l.config.ReasoningEffort, Signal: ctx}

	var stream *providers.Stream
	result := retry.Do(ctx, l.config.Retry, func() error {
		s, streamErr := providers.StreamFor(ctx, l.model, reqCtx, opts, l.config.ExtensionsDisabled)
		if streamErr != nil {
			return streamErr
		}
		stream = s
		return nil
	})
	if result.Err != nil {
		return nil, nil, result.Err
	}

	var toolCalls []models.ContentBlock
	var msg *models.Message
	for ev := range stream.Events() {
		switch ev.Type {
		case providers.EventTextDelta:
			l.emit(sink, sess.ID(), 0, iter, &models.AgentEvent{Type: models.AgentEventModelDelta, Stream: &models.StreamEventPayload{Delta: ev.Delta}})
		case providers.EventToolCall:
			if ev.ToolCall != nil {
				toolCalls = append(toolCalls, *ev.ToolCall)
			}
		case providers.EventDone:
			msg = ev.Message
		case providers.EventError:
			msg = ev.Error
		}
	}
	if msg == nil {
		return nil, nil, fmt.Errorf("agent: stream closed without a terminal event")
	}
	if msg.StopReason == models.StopError {
		return nil, nil, fmt.Errorf("agent: %s", msg.ErrorMessage)
	}

	return msg, toolCalls, nil
}

// dispatchTools runs the tool_call hook for each requested call, executes
// whatever survives, runs the tool_result hook, and appends one
// RoleToolResult message per call to sess.
func (l *AgenticLoop) dispatchTools(ctx context.Context, sess *sessions.Session, calls []models.ContentBlock, sink Sink, runID string, iter int) error {
	results := make([]models.ToolResultPayload, len(calls))

	run := func(i int) {
		call := calls[i]
		l.emit(sink, runID, 0, iter, &models.AgentEvent{Type: models.AgentEventToolStarted, Tool: &models.ToolEventPayload{CallID: call.ToolCallID, Name: call.ToolName, ArgsJSON: call.ToolArgsJSON}})

		blocked, reason, err := hooks.GateToolCall(ctx, l.hookRegistry(), sess.ID(), call)
		if err != nil {
			l.logger.Warn("tool_call hook failed", "tool", call.ToolName, "error", err)
		}
		if blocked {
			results[i] = models.ToolResultPayload{
				ToolCallID: call.ToolCallID,
				Content:    []models.ContentBlock{models.TextBlock("tool call blocked: " + reason)},
				IsError:    true,
			}
			l.emit(sink, runID, 0, iter, &models.AgentEvent{Type: models.AgentEventToolFinished, Tool: &models.ToolEventPayload{CallID: call.ToolCallID, Name: call.ToolName, Success: false}})
			return
		}

		tool, ok := l.registry.Get(call.ToolName)
		var result models.ToolResultPayload
		if !ok {
			result = l.registry.notFoundResult(call.ToolCallID, call.ToolName)
		} else {
			toolCtx, cancel := context.WithTimeout(ctx, l.config.ToolTimeout)
			result = tool.Execute(toolCtx, call.ToolCallID, call.ToolArgsJSON)
			cancel()
		}

		rewritten, err := hooks.RewriteToolResult(ctx, l.hookRegistry(), sess.ID(), call, result)
		if err != nil {
			l.logger.Warn("tool_result hook failed", "tool", call.ToolName, "error", err)
		} else {
			result = rewritten
		}
		results[i] = result

		l.emit(sink, runID, 0, iter, &models.AgentEvent{Type: models.AgentEventToolFinished, Tool: &models.ToolEventPayload{CallID: call.ToolCallID, Name: call.ToolName, Success: !result.IsError}})
	}

	if l.config.SerializeTools {
		for i := range calls {
			run(i)
		}
	} else {
		var wg sync.WaitGroup
		wg.Add(len(calls))
		for i := range calls {
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	}

	for _, result := range results {
		msg := models.Message{
			Role:        models.RoleToolResult,
			ToolResult:  &result,
			TimestampMS: time.Now().UnixMilli(),
		}
		if err := sess.Append(models.NewMessageEntry(msg)); err != nil {
			return fmt.Errorf("agent: append tool result: %w", err)
		}
	}
	return nil
}
