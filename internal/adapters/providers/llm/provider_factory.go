package llm

import (
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	anthropicclient "github.com/zatekoja/clinicalcopilot/internal/infrastructure/clients/anthropic"
	openaiclient "github.com/zatekoja/clinicalcopilot/internal/infrastructure/clients/openai"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

// NewTextProviders builds every known provider. Providers without
// credentials are still registered and report themselves unavailable, so
// the gateway skips them and the health endpoint can show why.
func NewTextProviders(cfg *config.Config) []providers.TextProvider {
	all := []providers.TextProvider{
		openaiclient.NewClient(&cfg.OpenAI),
		anthropicclient.NewClient(&cfg.Anthropic),
		NewDeepSeekProvider(&cfg.DeepSeek),
		NewHeuristicProvider(),
	}
	for _, p := range all {
		log.Info().Str("provider", p.Name()).Bool("available", p.IsAvailable()).Msg("text provider registered")
	}
	return all
}

// ProviderNames returns the names of providers in order
func ProviderNames(all []providers.TextProvider) []string {
	names := make([]string, len(all))
	for i, p := range all {
		names[i] = p.Name()
	}
	return names
}
