package search

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/calliope/plugin/ai/cache"
)

// CachedProvider memoizes another provider's results.
// Cache failures fall through to the wrapped provider.
type CachedProvider struct {
	next  Provider
	cache cache.CacheService
	ttl   time.Duration
}

// NewCachedProvider wraps next with a result cache.
func NewCachedProvider(next Provider, c cache.CacheService, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, cache: c, ttl: ttl}
}

func (p *CachedProvider) Name() string { return p.next.Name() }

func (p *CachedProvider) IsAvailable() bool { return p.next.IsAvailable() }

func (p *CachedProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	key := CacheKey(query, p.next.Name(), k)
	if data, ok := p.cache.Get(ctx, key); ok {
		var results []Result
		if err := json.Unmarshal(data, &results); err == nil {
			return results, nil
		}
		_ = p.cache.Delete(ctx, key)
	}

	results, err := p.next.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	// Empty answers are not cached so a transient miss is retried next time.
	if len(results) == 0 {
		return results, nil
	}

	data, err := json.Marshal(results)
	if err != nil {
		return results, nil
	}
	if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
		slog.Debug("search cache write skipped", "provider", p.next.Name(), "error", err)
	}
	return results, nil
}

// CacheKey derives the cache key for a provider query.
func CacheKey(query, provider string, k int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%d", query, provider, k)))
	return hex.EncodeToString(sum[:])
}
