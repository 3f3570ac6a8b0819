package budget

// EstimateTokens estimates the token count for a string.
// Uses heuristic: CJK and other non-ASCII runes count as ~2 tokens, ASCII as ~0.25 tokens per char.
func EstimateTokens(content string) int {
	if len(content) == 0 {
		return 0
	}

	wideCount := 0
	asciiCount := 0
	for _, r := range content {
		if r < 128 {
			asciiCount++
		} else {
			wideCount++
		}
	}

	tokens := wideCount*2 + asciiCount/4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// Truncate cuts content to approximately fit within maxTokens.
// Uses simple heuristic: average 1.5 tokens per rune for mixed text.
func Truncate(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(content) <= maxTokens {
		return content
	}

	runes := []rune(content)
	estimatedRunes := int(float64(maxTokens) / 1.5)
	if estimatedRunes >= len(runes) {
		return content
	}
	if estimatedRunes > 3 {
		return string(runes[:estimatedRunes-3]) + "..."
	}
	return string(runes[:estimatedRunes])
}
