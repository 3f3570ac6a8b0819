package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ServiceConfig configures the cache service.
type ServiceConfig struct {
	MaxBytes    int64         // Maximum total size of cached values (default: 64 MiB)
	NumCounters int64         // Keys tracked for admission frequency (default: 100k)
	DefaultTTL  time.Duration // Default TTL for entries (default: 1 hour)
}

// DefaultServiceConfig returns default cache service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxBytes:    64 << 20,
		NumCounters: 100_000,
		DefaultTTL:  time.Hour,
	}
}

// Service implements CacheService on a ristretto cache.
// Eviction is cost-based with the value length as cost.
type Service struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

// ErrRejected is returned when the admission policy drops a write.
var ErrRejected = errors.New("cache: value rejected")

// NewService creates a new cache service.
func NewService(cfg ServiceConfig) (*Service, error) {
	defaults := DefaultServiceConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaults.NumCounters
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Service{cache: c, defaultTTL: cfg.DefaultTTL}, nil
}

// Close stops the cache service.
func (s *Service) Close() {
	s.cache.Close()
}

// Get retrieves a value from cache.
func (s *Service) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set stores a value in cache. Writes are buffered; the value becomes
// visible once ristretto drains its write buffer.
func (s *Service) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if !s.cache.SetWithTTL(key, value, int64(len(value)), ttl) {
		return ErrRejected
	}
	return nil
}

// Delete removes a single entry.
func (s *Service) Delete(_ context.Context, key string) error {
	s.cache.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (s *Service) Wait() {
	s.cache.Wait()
}

// Clear removes all entries from the cache.
func (s *Service) Clear() {
	s.cache.Clear()
}

// Ensure Service implements CacheService
var _ CacheService = (*Service)(nil)
