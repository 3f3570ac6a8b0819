package search

import (
	"context"
	"sync/atomic"
)

// MockProvider returns canned results for testing.
type MockProvider struct {
	ProviderName string
	Results      []Result
	Err          error
	Unavailable  bool
	// Block, when set, makes Search wait for ctx to be done.
	Block bool

	calls atomic.Int32
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) IsAvailable() bool { return !m.Unavailable }

func (m *MockProvider) Search(ctx context.Context, _ string, k int) ([]Result, error) {
	m.calls.Add(1)
	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.Err != nil {
		return nil, m.Err
	}
	results := make([]Result, len(m.Results))
	copy(results, m.Results)
	return limit(results, k), nil
}

// Calls returns how many times Search ran.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}

var _ Provider = (*MockProvider)(nil)
