package providers

import (
	"sort"
	"sync"

	"github.com/forgehq/engine/pkg/models"
)

// ModelRegistry is the process-wide map provider -> {modelId -> Model}
// described in §4.1.3: register(model), get(provider, modelId), list(),
// getProviders(). It is distinct from the AdapterRegistry: a Model names
// the api key an Adapter is looked up under, but carries no reference to
// the adapter itself.
type ModelRegistry struct {
	mu    sync.RWMutex
	byKey map[registryKey]models.Model
	order []registryKey
}

type registryKey struct {
	provider string
	id       string
}

// NewModelRegistry constructs an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{byKey: make(map[registryKey]models.Model)}
}

// Register adds or replaces a model entry, keyed by (Provider, ID).
func (r *ModelRegistry) Register(model models.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{model.Provider, model.ID}
	if _, exists := r.byKey[key]; !exists {
		r.order = append(r.order, key)
	}
	r.byKey[key] = model
}

// Get looks up a model by provider and model ID.
func (r *ModelRegistry) Get(provider, modelID string) (models.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKey[registryKey{provider, modelID}]
	return m, ok
}

// List returns every registered model, ordered by provider then ID.
func (r *ModelRegistry) List() []models.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Model, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetProviders returns the distinct provider names with at least one
// registered model, sorted.
func (r *ModelRegistry) GetProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for key := range r.byKey {
		if !seen[key.provider] {
			seen[key.provider] = true
			out = append(out, key.provider)
		}
	}
	sort.Strings(out)
	return out
}

// ListByProvider returns every model registered under one provider, sorted
// by ID.
func (r *ModelRegistry) ListByProvider(provider string) []models.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Model
	for key, m := range r.byKey {
		if key.provider == provider {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// globalModels is the process-wide Model Registry instance, mirroring the
// process-wide AdapterRegistry in adapter.go.
var globalModels = NewModelRegistry()

// GlobalModels returns the process-wide Model Registry.
func GlobalModels() *ModelRegistry { return globalModels }
