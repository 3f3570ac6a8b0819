// Package budget keeps prompts inside a token budget.
package budget

// Default token budget values
const (
	DefaultMaxTokens    = 8192
	DefaultSystemPrompt = 500
	MinSegmentTokens    = 100
)

// TokenBudget represents the token allocation plan of one prompt.
type TokenBudget struct {
	Total        int
	SystemPrompt int
	History      int
	Memories     int
	Retrieval    int
}

// Allocator allocates token budgets.
type Allocator struct {
	systemPromptTokens int
}

// NewAllocator creates a new budget allocator with defaults.
func NewAllocator() *Allocator {
	return &Allocator{systemPromptTokens: DefaultSystemPrompt}
}

// Allocate splits total between the prompt parts. Retrieved sources get the
// largest share when present because cited answers depend on them.
func (a *Allocator) Allocate(total int, hasRetrieval bool) *TokenBudget {
	if total <= 0 {
		total = DefaultMaxTokens
	}

	budget := &TokenBudget{
		Total:        total,
		SystemPrompt: a.systemPromptTokens,
	}
	remaining := total - budget.SystemPrompt

	if hasRetrieval {
		// History: 35%, Memories: 10%, Retrieval: 55%
		budget.History = int(float64(remaining) * 0.35)
		budget.Memories = int(float64(remaining) * 0.10)
		budget.Retrieval = int(float64(remaining) * 0.55)
	} else {
		// History: 70%, Memories: 30%
		budget.History = int(float64(remaining) * 0.70)
		budget.Memories = int(float64(remaining) * 0.30)
	}

	return budget
}

// Allocate is a convenience function.
func Allocate(total int, hasRetrieval bool) *TokenBudget {
	return NewAllocator().Allocate(total, hasRetrieval)
}
