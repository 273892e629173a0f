package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine's root configuration. It is deliberately narrow:
// every field here backs an ambient or domain concern named in SPEC_FULL.md
// (streaming providers, the session store, the sandbox runtime, tool
// dispatch, logging/tracing, and hook discovery). There is no channel,
// gateway, auth, or plugin-marketplace configuration — those domains are
// out of scope per spec.md §1.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Session       SessionConfig       `yaml:"session"`
	Tools         ToolsConfig         `yaml:"tools"`
	Artifacts     ArtifactConfig      `yaml:"artifacts"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Hooks         HooksConfig         `yaml:"hooks"`
}

// HooksConfig controls hook discovery (§4.4's extension-point hooks).
type HooksConfig struct {
	// Enabled turns on hook discovery and dispatch entirely.
	Enabled bool `yaml:"enabled"`

	// WorkspaceDir, LocalDir, BundledDir are searched in that priority
	// order, matching internal/hooks.BuildDefaultSources.
	WorkspaceDir string   `yaml:"workspace_dir"`
	LocalDir     string   `yaml:"local_dir"`
	BundledDir   string   `yaml:"bundled_dir"`
	ExtraDirs    []string `yaml:"extra_dirs"`
}

// Load reads, expands, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a zero-value Config with every ambient default applied
// and environment overrides layered in, for callers (cmd/forge's
// --config-less invocation) that run without a YAML file on disk.
func Default() (*Config, error) {
	var cfg Config
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLLMDefaults(&cfg.LLM)
	applySessionDefaults(&cfg.Session)
	applyToolsDefaults(&cfg.Tools)
	applyArtifactDefaults(&cfg.Artifacts)
	applyLoggingDefaults(&cfg.Logging)
	applyHooksDefaults(&cfg.Hooks)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Directory == "" {
		cfg.Directory = "sessions"
	}
	if cfg.Compaction.ThresholdPercent == 0 {
		cfg.Compaction.ThresholdPercent = 80
	}
	if cfg.Compaction.KeepRecentTurns == 0 {
		cfg.Compaction.KeepRecentTurns = 10
	}
	if cfg.Compaction.Timeout == 0 {
		cfg.Compaction.Timeout = 2 * time.Minute
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 50
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 1
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "goja"
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 30 * time.Second
	}
}

func applyArtifactDefaults(cfg *ArtifactConfig) {
	if cfg.LocalPath == "" {
		cfg.LocalPath = "artifacts"
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = 1 * time.Hour
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyHooksDefaults(cfg *HooksConfig) {
	if cfg.LocalDir == "" {
		cfg.LocalDir = filepath.Join(".", ".forge", "hooks")
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ConfigValidationError reports one or more configuration problems found
// during Load.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.LLM.DefaultProvider != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok && len(cfg.LLM.Providers) > 0 {
			issues = append(issues, fmt.Sprintf("llm.default_provider %q has no matching entry under llm.providers", cfg.LLM.DefaultProvider))
		}
	}

	if cfg.Session.Compaction.ThresholdPercent < 0 || cfg.Session.Compaction.ThresholdPercent > 100 {
		issues = append(issues, "session.compaction.threshold_percent must be between 0 and 100")
	}

	switch cfg.Tools.Sandbox.Backend {
	case "", "goja":
	default:
		issues = append(issues, fmt.Sprintf("tools.sandbox.backend %q is not one of goja", cfg.Tools.Sandbox.Backend))
	}

	issues = append(issues, pluginValidationIssues(cfg)...)

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
