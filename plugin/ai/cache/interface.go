// Package cache provides the byte cache used to memoize search provider results.
package cache

import (
	"context"
	"time"
)

// CacheService defines the cache service interface.
// Cache failures are never fatal to callers; a miss is always a safe answer.
type CacheService interface {
	// Get retrieves a value from cache.
	// Returns: value, whether it exists
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value in cache.
	// ttl: expiration time, 0 uses the service default
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single entry.
	Delete(ctx context.Context, key string) error
}
