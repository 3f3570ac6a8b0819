package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/calliope/plugin/ai"
)

func TestTokenBudgetAllocation(t *testing.T) {
	t.Run("With retrieval", func(t *testing.T) {
		budget := Allocate(4096, true)

		total := budget.SystemPrompt + budget.History + budget.Memories + budget.Retrieval
		assert.LessOrEqual(t, total, 4096)
		assert.Equal(t, 500, budget.SystemPrompt)
		assert.Greater(t, budget.Retrieval, budget.History)
	})

	t.Run("Without retrieval", func(t *testing.T) {
		budget := Allocate(4096, false)

		assert.Equal(t, 0, budget.Retrieval)
		assert.Greater(t, budget.History, budget.Memories)
		assert.Greater(t, budget.Memories, 0)
	})

	t.Run("Default total", func(t *testing.T) {
		budget := Allocate(0, true)
		assert.Equal(t, DefaultMaxTokens, budget.Total)
	})
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input     string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"hi", 1, 1},
		{"hello world", 1, 10},
		{"你好世界", 4, 12},
		{strings.Repeat("word ", 100), 100, 150},
	}
	for _, tt := range tests {
		got := EstimateTokens(tt.input)
		assert.GreaterOrEqual(t, got, tt.minTokens, tt.input)
		assert.LessOrEqual(t, got, tt.maxTokens, tt.input)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	assert.Equal(t, "", Truncate("anything", 0))

	long := strings.Repeat("你", 100)
	truncated := Truncate(long, 30)
	assert.True(t, strings.HasSuffix(truncated, "..."))
	assert.Len(t, []rune(truncated), 20)
}

func TestFitHistory(t *testing.T) {
	long := strings.Repeat("x", 400) // 100 tokens
	history := []ai.Message{
		ai.UserMessage(long),
		ai.AssistantMessage(long),
		ai.UserMessage(long),
		ai.AssistantMessage(long),
	}

	tests := []struct {
		name   string
		budget int
		want   int
	}{
		{"everything fits", 400, 4},
		{"oldest turn dropped", 399, 2},
		{"dangling reply dropped", 150, 0},
		{"nothing fits", 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitHistory(history, tt.budget)
			assert.Len(t, got, tt.want)
			if len(got) > 0 {
				assert.Equal(t, "user", got[0].Role)
			}
		})
	}
}

func TestFit(t *testing.T) {
	items := []string{"aaaa", "bbbbbbbb", "cccc"}
	cost := func(s string) int { return len(s) }

	assert.Equal(t, items, Fit(items, 16, cost))
	assert.Equal(t, []string{"aaaa", "bbbbbbbb"}, Fit(items, 15, cost))
	assert.Empty(t, Fit(items, 3, cost))
}
