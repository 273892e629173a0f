package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/forgehq/engine/internal/config"
	"github.com/forgehq/engine/internal/hooks"
	"github.com/forgehq/engine/internal/providers"
	"github.com/forgehq/engine/pkg/models"
)

// envCredentialSource satisfies providers.CredentialSource by layering
// environment variables under whatever internal/config.LLMConfig.Providers
// already has configured, matching the env-var fallback documented in the
// teacher's own CLI (ANTHROPIC_API_KEY, OPENAI_API_KEY, ...).
type envCredentialSource struct {
	cfg *config.Config
}

func newEnvCredentialSource(cfg *config.Config) envCredentialSource {
	return envCredentialSource{cfg: cfg}
}

func (e envCredentialSource) Credential(provider string) (apiKey, baseURL string, ok bool) {
	if e.cfg != nil {
		if p, found := e.cfg.LLM.Providers[provider]; found && strings.TrimSpace(p.APIKey) != "" {
			return p.APIKey, p.BaseURL, true
		}
	}

	switch provider {
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return key, "", true
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return key, "", true
		}
	case "venice":
		if key := os.Getenv("VENICE_API_KEY"); key != "" {
			return key, "", true
		}
	case "google":
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			return key, "", true
		}
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key, "", true
		}
	case "bedrock":
		region := e.cfg.LLM.Bedrock.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region != "" {
			return region, "", true
		}
	}
	return "", "", false
}

// resolveModel picks the active model for the run: an explicit --model (and
// optional --provider to disambiguate) wins, otherwise the configured
// default provider's first registered model is used.
func resolveModel(cfg *config.Config, providerFlag, modelFlag string) (models.Model, error) {
	registry := providers.GlobalModels()

	provider := strings.TrimSpace(providerFlag)
	if provider == "" {
		provider = cfg.LLM.DefaultProvider
	}

	if modelFlag != "" {
		if provider != "" {
			if m, ok := registry.Get(provider, modelFlag); ok {
				return m, nil
			}
		}
		for _, m := range registry.List() {
			if m.ID == modelFlag {
				return m, nil
			}
		}
		return models.Model{}, fmt.Errorf("forge: no registered model %q", modelFlag)
	}

	if provider != "" {
		if cfgProvider, ok := cfg.LLM.Providers[provider]; ok && cfgProvider.DefaultModel != "" {
			if m, ok := registry.Get(provider, cfgProvider.DefaultModel); ok {
				return m, nil
			}
		}
		if byProvider := registry.ListByProvider(provider); len(byProvider) > 0 {
			return byProvider[0], nil
		}
	}

	if all := registry.List(); len(all) > 0 {
		return all[0], nil
	}
	return models.Model{}, fmt.Errorf("forge: no models registered; configure an llm provider credential")
}

// registerHookFile parses a HOOK.md file and registers a handler for each
// event it declares, the way internal/hooks/discovery.go's bundled-hook
// loading works, generalized to an arbitrary on-disk path (§6).
func registerHookFile(registry *hooks.Registry, path string) error {
	entry, err := hooks.ParseHookFile(path)
	if err != nil {
		return fmt.Errorf("parse hook file %s: %w", path, err)
	}

	for _, eventKey := range entry.Config.Events {
		eventKey := eventKey
		registry.Register(eventKey, hookHandler(entry), hooks.WithName(entry.Config.Name), hooks.WithSource(path))
	}
	return nil
}

// hookHandler turns a discovered hook's markdown body into a Handler. A
// "context" hook's body is injected as a leading user message ahead of the
// projected session context; every other event is logged only, since
// arbitrary script execution per event is not part of this engine's hook
// contract (§4.4's hooks are in-process hosts, not shelled-out scripts).
func hookHandler(entry *hooks.HookEntry) hooks.Handler {
	return func(ctx context.Context, event *hooks.Event) error {
		if event.Type != hooks.EventContext || strings.TrimSpace(entry.Content) == "" {
			return nil
		}
		preamble := models.Message{
			Role:    models.RoleUser,
			Content: []models.ContentBlock{models.TextBlock(entry.Content)},
		}
		event.Messages = append([]models.Message{preamble}, event.Messages...)
		return nil
	}
}
