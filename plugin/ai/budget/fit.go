package budget

import "github.com/hrygo/calliope/plugin/ai"

// FitHistory keeps the most recent messages whose cost fits in budget.
// Messages are dropped whole, oldest first, and the kept window never
// opens on an assistant reply whose question was dropped.
func FitHistory(history []ai.Message, budget int) []ai.Message {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	for start < len(history) && history[start].Role == "assistant" {
		start++
	}
	return history[start:]
}

// Fit keeps items in order while their cost fits in budget. Items are
// assumed to be ranked already, so the first one that does not fit ends
// the selection.
func Fit[T any](items []T, budget int, cost func(T) int) []T {
	used := 0
	for i, item := range items {
		c := cost(item)
		if used+c > budget {
			return items[:i]
		}
		used += c
	}
	return items
}
