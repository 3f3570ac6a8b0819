package cache

import (
	"context"
	"sync"
	"time"
)

// MockCacheService is a map-backed CacheService for tests. Unlike Service,
// writes are visible immediately and hits and misses are counted.
type MockCacheService struct {
	mu      sync.Mutex
	entries map[string]mockEntry
	hits    int
	misses  int

	// Err, when set, is returned by Set.
	Err error
	// Now is the clock used for expiry.
	Now func() time.Time
}

type mockEntry struct {
	value   []byte
	expires time.Time
}

func NewMockCacheService() *MockCacheService {
	return &MockCacheService{
		entries: make(map[string]mockEntry),
		Now:     time.Now,
	}
}

func (m *MockCacheService) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && !e.expires.IsZero() && !m.Now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		m.misses++
		return nil, false
	}
	m.hits++
	return e.value, true
}

func (m *MockCacheService) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	e := mockEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MockCacheService) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Size returns the number of stored entries, expired ones included.
func (m *MockCacheService) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats returns the hit and miss counts so far.
func (m *MockCacheService) Stats() (hits, misses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

var _ CacheService = (*MockCacheService)(nil)
