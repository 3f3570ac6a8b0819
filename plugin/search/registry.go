package search

import (
	"log/slog"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai/cache"
)

// NewProvidersFromProfile builds providers in the order listed by
// profile.SearchProviders. Unknown names are logged and ignored.
// When c is non-nil and the cache TTL is positive each provider is wrapped
// in a CachedProvider.
func NewProvidersFromProfile(p *profile.Profile, c cache.CacheService) []Provider {
	providers := make([]Provider, 0, len(p.SearchProviders))
	seen := make(map[string]bool)
	for _, name := range p.SearchProviders {
		if seen[name] {
			continue
		}
		seen[name] = true

		var provider Provider
		switch name {
		case ProviderTavily:
			provider = NewTavilyProvider(p.TavilyAPIKey)
		case ProviderBing:
			provider = NewBingProvider(p.BingAPIKey)
		case ProviderGoogle:
			provider = NewGoogleProvider(p.GoogleAPIKey, p.GoogleCSEID)
		case ProviderDuckDuckGo:
			provider = NewDuckDuckGoProvider()
		default:
			slog.Warn("unknown search provider in configuration", "provider", name)
			continue
		}

		if c != nil && p.SearchCacheTTL > 0 {
			provider = NewCachedProvider(provider, c, p.SearchCacheTTL)
		}
		providers = append(providers, provider)
	}
	return providers
}
