package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesCompactionThreshold(t *testing.T) {
	path := writeConfig(t, `
session:
  compaction:
    threshold_percent: 150
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "threshold_percent") {
		t.Fatalf("expected threshold_percent error, got %v", err)
	}
}

func TestLoadValidatesSandboxBackend(t *testing.T) {
	path := writeConfig(t, `
tools:
  sandbox:
    backend: qemu
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "sandbox.backend") {
		t.Fatalf("expected sandbox.backend error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
session:
  directory: sessions
  compaction:
    enabled: true
    threshold_percent: 85
tools:
  sandbox:
    backend: goja
  execution:
    max_iterations: 25
    serialize_tools: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Session.Compaction.ThresholdPercent != 85 {
		t.Fatalf("expected threshold 85, got %d", cfg.Session.Compaction.ThresholdPercent)
	}
	if !cfg.Tools.Execution.SerializeTools {
		t.Fatalf("expected serialize_tools to round-trip true")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Session.Compaction.ThresholdPercent != 80 {
		t.Fatalf("expected default threshold 80, got %d", cfg.Session.Compaction.ThresholdPercent)
	}
	if cfg.Tools.Sandbox.Backend != "goja" {
		t.Fatalf("expected default sandbox backend goja, got %q", cfg.Tools.Sandbox.Backend)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("FORGE_HOST", "127.0.0.1")
	t.Setenv("FORGE_HTTP_PORT", "9999")

	path := writeConfig(t, `
server:
  host: 0.0.0.0
  http_port: 8080
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host override, got %q", cfg.Server.Host)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Fatalf("expected http port override, got %d", cfg.Server.HTTPPort)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
