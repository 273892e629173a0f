package config

import "time"

// SessionConfig controls the Session Store (§4.2) and compaction trigger
// policy (§4.2.5 leaves the firstKeptEntryIndex heuristic to the caller;
// this is the caller's policy knob).
type SessionConfig struct {
	// Directory overrides the sessions root; defaults to
	// "<agentDir>/sessions" per §4.2.1.
	Directory string `yaml:"directory"`

	Compaction CompactionConfig `yaml:"compaction"`
}

// CompactionConfig drives when Compact (§4.2.5) is triggered and how much
// of the prefix is kept as tail.
type CompactionConfig struct {
	// Enabled turns on automatic compaction when a turn's projected
	// context approaches Model.ContextWindow.
	Enabled bool `yaml:"enabled"`

	// ThresholdPercent is the fraction (0-100) of Model.ContextWindow that
	// triggers compaction. Default: 80.
	ThresholdPercent int `yaml:"threshold_percent"`

	// KeepRecentTurns bounds how many trailing message-entries are kept
	// verbatim (the tail after firstKeptEntryIndex), independent of token
	// estimate. Default: 10.
	KeepRecentTurns int `yaml:"keep_recent_turns"`

	// SummarizerModel optionally names a dedicated model (provider/id) used
	// for the summarization call instead of the active session model.
	SummarizerModel string `yaml:"summarizer_model"`

	// Timeout bounds the summarization call itself.
	Timeout time.Duration `yaml:"timeout"`
}
