package config

import "time"

// ToolsConfig groups runtime tool-dispatch and sandbox-execution settings.
type ToolsConfig struct {
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Execution ToolExecutionConfig `yaml:"execution"`
}

// ToolExecutionConfig controls the Agent Loop's tool-dispatch step (§4.4.3).
type ToolExecutionConfig struct {
	// MaxIterations bounds how many Streaming/ToolDispatch cycles one turn
	// may run before the loop gives up and returns to Idle with an error.
	MaxIterations int `yaml:"max_iterations"`

	// Parallelism caps how many tool calls from one assistant message run
	// concurrently. 0 means unbounded (all requested calls at once).
	Parallelism int `yaml:"parallelism"`

	// Timeout bounds a single tool's execute() call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts/RetryBackoff govern retrying a failed tool call before
	// surfacing an isError result to the model.
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// SerializeTools resolves spec.md §9's open question: when true, a
	// turn's tool calls are dispatched one at a time instead of
	// concurrently, for hosts whose tools are not side-effect-tolerant.
	SerializeTools bool `yaml:"serialize_tools"`
}

// SandboxConfig configures the Sandbox Runtime backend selection (§4.3.1).
// goja is the only backend this module implements: an embedded,
// AST-interpreted JS engine with no OS-level isolation of its own (the
// host process boundary is the isolation boundary). A microVM-backed
// backend is not provided — see DESIGN.md.
type SandboxConfig struct {
	// Enabled gates sandboxed code execution entirely.
	Enabled bool `yaml:"enabled"`

	// Backend selects the sandbox implementation. "goja" is the only
	// value this module's Sandbox contract currently has an
	// implementation for.
	Backend string `yaml:"backend"`

	// Timeout overrides sandbox.ExecutionTimeout's 30s default.
	Timeout time.Duration `yaml:"timeout"`
}
