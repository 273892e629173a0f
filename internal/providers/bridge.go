package providers

import (
	catalog "github.com/forgehq/engine/internal/models"
	"github.com/forgehq/engine/pkg/models"
)

// providerAPI maps a catalog.Provider to the capability key its adapter
// registers under (§4.1.3's "provider" dimension of the registry key is the
// same string as an AdapterRegistry api key whenever one model -> one wire
// format; Bedrock is the exception, since several catalog.Provider entries
// route through the single bedrock-converse adapter).
func providerAPI(p catalog.Provider) string {
	switch p {
	case catalog.ProviderAnthropic:
		return "anthropic-messages"
	case catalog.ProviderOpenAI:
		return "openai-chat"
	case catalog.ProviderGoogle, catalog.ProviderVertex:
		return "gemini-generate"
	case catalog.ProviderBedrock:
		return "bedrock-converse"
	default:
		return string(p)
	}
}

// SeedFromCatalog converts every entry in the richer internal/models
// catalog (capabilities, tiers, aliases — ambient enrichment beyond §4.1.3's
// minimal registry contract) into a canonical pkg/models.Model and
// registers it against reg. Catalog entries carry no cache pricing, so
// UsageCost.cacheRead/cacheWrite are zero for bridged models until a
// provider-specific override supplies them.
func SeedFromCatalog(reg *ModelRegistry, cat *catalog.Catalog) {
	for _, m := range cat.List(nil) {
		reg.Register(models.Model{
			ID:            m.ID,
			Name:          m.Name,
			Provider:      string(m.Provider),
			API:           providerAPI(m.Provider),
			Reasoning:     m.HasCapability(catalog.CapReasoning),
			Input:         bridgeInputKinds(m),
			ContextWindow: m.ContextWindow,
			MaxTokens:     m.MaxOutputTokens,
			Cost: models.ModelCost{
				Input:  m.InputPrice,
				Output: m.OutputPrice,
			},
		})
	}
}

func bridgeInputKinds(m *catalog.Model) []models.MediaKind {
	kinds := []models.MediaKind{models.MediaText}
	if m.HasCapability(catalog.CapVision) {
		kinds = append(kinds, models.MediaImage)
	}
	if m.HasCapability(catalog.CapAudio) {
		kinds = append(kinds, models.MediaAudio)
	}
	return kinds
}
