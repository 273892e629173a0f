package providers

import (
	"context"
	"time"

	catalog "github.com/forgehq/engine/internal/models"
)

// CredentialSource supplies the API key/base URL pair configured for one
// provider, abstracting over internal/config's LLMConfig.Providers map so
// this package doesn't import internal/config directly (providers sits
// below config in the dependency graph; config wires providers, not the
// reverse).
type CredentialSource interface {
	Credential(provider string) (apiKey, baseURL string, ok bool)
}

// Bootstrap registers every adapter this binary ships with against the
// process-wide AdapterRegistry, and seeds the process-wide ModelRegistry
// from the internal/models catalog. Adapters whose credentials are absent
// from creds are skipped rather than constructed with an empty key, so a
// partially configured deployment still serves the providers it has keys
// for (§4.1.3: "a model whose provider has no adapter registered is a
// configuration error surfaced at call time, not at registry-build time").
func Bootstrap(ctx context.Context, creds CredentialSource) []error {
	var errs []error

	if key, baseURL, ok := creds.Credential("anthropic"); ok {
		RegisterAPIProvider(adapterRegistration(NewAnthropicAdapter(key, baseURL, 3, time.Second)))
	}

	if key, baseURL, ok := creds.Credential("openai"); ok {
		RegisterAPIProvider(adapterRegistration(NewOpenAIAdapter("openai-chat", key, baseURL)))
	}
	if key, baseURL, ok := creds.Credential("venice"); ok {
		RegisterAPIProvider(adapterRegistration(NewOpenAIAdapter("venice-chat", key, baseURL)))
	}

	if key, _, ok := creds.Credential("google"); ok {
		gemini, err := NewGeminiAdapter(ctx, key)
		if err != nil {
			errs = append(errs, err)
		} else {
			RegisterAPIProvider(adapterRegistration(gemini))
		}
	}

	// Bedrock authenticates via the AWS credential chain, not an API key;
	// the "apiKey" slot carries the AWS region instead.
	if region, _, ok := creds.Credential("bedrock"); ok {
		bedrock, err := NewBedrockAdapter(BedrockConfig{Region: region})
		if err != nil {
			errs = append(errs, err)
		} else {
			RegisterAPIProvider(adapterRegistration(bedrock))
		}
	}

	SeedFromCatalog(GlobalModels(), catalog.NewCatalog())

	return errs
}

// adapterRegistration builds a Registration from any Adapter, using its
// Stream method for both the extension-enabled and simple streaming modes
// (an adapter has no notion of "extensions" — that distinction belongs to
// the Agent Loop's hook layer, which may rewrite the Context before calling
// either; see StreamFor in adapter.go).
func adapterRegistration(a Adapter) Registration {
	return Registration{API: a.API(), Stream: a.Stream, StreamSimple: a.StreamSimple}
}
