package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai/cache"
)

func TestCachedProvider(t *testing.T) {
	inner := &MockProvider{ProviderName: "bing", Results: results("bing", "https://a", "https://b")}
	c := cache.NewMockCacheService()
	p := NewCachedProvider(inner, c, time.Hour)

	first, err := p.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	second, err := p.Search(context.Background(), "q", 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, 1, c.Size())
	hits, _ := c.Stats()
	assert.Equal(t, 1, hits)

	// Different k is a different key.
	_, err = p.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
}

func TestCachedProviderDoesNotCacheFailuresOrEmpty(t *testing.T) {
	c := cache.NewMockCacheService()

	failing := &MockProvider{ProviderName: "x", Err: errors.New("down")}
	_, err := NewCachedProvider(failing, c, time.Hour).Search(context.Background(), "q", 5)
	assert.Error(t, err)

	empty := &MockProvider{ProviderName: "y"}
	got, err := NewCachedProvider(empty, c, time.Hour).Search(context.Background(), "q", 5)
	assert.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, 0, c.Size())
}

func TestCachedProviderIgnoresCacheErrors(t *testing.T) {
	c := cache.NewMockCacheService()
	c.Err = errors.New("cache full")
	inner := &MockProvider{ProviderName: "p", Results: results("p", "https://a")}

	got, err := NewCachedProvider(inner, c, time.Hour).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCachedProviderDropsCorruptEntries(t *testing.T) {
	c := cache.NewMockCacheService()
	inner := &MockProvider{ProviderName: "p", Results: results("p", "https://a")}
	require.NoError(t, c.Set(context.Background(), CacheKey("q", "p", 5), []byte("not json"), 0))

	got, err := NewCachedProvider(inner, c, time.Hour).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, inner.Calls())
}

func TestCacheKeyIsStable(t *testing.T) {
	assert.Equal(t, CacheKey("q", "bing", 5), CacheKey("q", "bing", 5))
	assert.NotEqual(t, CacheKey("q", "bing", 5), CacheKey("q", "tavily", 5))
	assert.Len(t, CacheKey("q", "bing", 5), 32)
}

func TestNewProvidersFromProfile(t *testing.T) {
	p := &profile.Profile{
		SearchProviders: []string{"duckduckgo", "bing", "unknown", "bing", "google"},
		BingAPIKey:      "k",
		SearchCacheTTL:  time.Hour,
	}

	providers := NewProvidersFromProfile(p, cache.NewMockCacheService())
	require.Len(t, providers, 3)
	assert.Equal(t, ProviderDuckDuckGo, providers[0].Name())
	assert.Equal(t, ProviderBing, providers[1].Name())
	assert.Equal(t, ProviderGoogle, providers[2].Name())
	assert.IsType(t, &CachedProvider{}, providers[0])
	assert.True(t, providers[1].IsAvailable())
	assert.False(t, providers[2].IsAvailable())

	p.SearchCacheTTL = 0
	providers = NewProvidersFromProfile(p, cache.NewMockCacheService())
	assert.IsType(t, &DuckDuckGoProvider{}, providers[0])
}
