package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/calliope/plugin/ai"
)

// RetrievalDecision represents the decision on whether to search the web.
type RetrievalDecision struct {
	ShouldRetrieve bool    `json:"should_retrieve"`
	Reason         string  `json:"reason"`
	Confidence     float32 `json:"confidence"`
}

// DecisionReason constants
const (
	ReasonChitchat         = "chitchat_detected"
	ReasonRetrievalTrigger = "retrieval_trigger"
	ReasonFreshness        = "freshness_required"
	ReasonForced           = "forced"
	ReasonModelJudgement   = "model_judgement"
	ReasonDefault          = "default"
)

// Rule decisions at or below this confidence are handed to the model when one is available.
const undecidedConfidence = 0.6

const decisionTimeout = 15 * time.Second

const needsRetrievalPrompt = `Analyze the following query and determine if it requires external information, real-time data, or current events to answer accurately.

Answer with ONLY 'yes' or 'no'.

Query: %s

Answer:`

// Retrieval trigger patterns
var (
	// Patterns that indicate no retrieval is needed
	chitchatPatterns = []string{
		"hi", "hello", "hey", "thanks", "thank you", "bye", "good morning", "good night",
		"ok", "okay", "cool", "great", "lol",
		"你好", "谢谢", "再见", "好的",
	}

	// Explicit requests to look something up
	retrievalTriggers = []string{
		"search", "look up", "google", "find online", "sources", "according to",
		"搜索", "查一下", "查找",
	}

	// Questions whose answer changes over time
	freshnessTriggers = []string{
		"today", "tonight", "current", "currently", "latest", "recent", "news", "now",
		"this week", "this month", "this year", "weather", "price", "stock", "score",
		"who won", "release date", "forecast",
		"今天", "最新", "新闻", "天气", "现在",
	}
)

// RetrievalDecider makes decisions about whether to retrieve. Rules
// decide clear cases; an optional model settles the rest.
type RetrievalDecider struct {
	chitchatPatterns  []string
	retrievalTriggers []string
	freshnessTriggers []string
	llm               ai.LLMService
}

// NewRetrievalDecider creates a new retrieval decider with default patterns.
func NewRetrievalDecider(llm ai.LLMService) *RetrievalDecider {
	return &RetrievalDecider{
		chitchatPatterns:  chitchatPatterns,
		retrievalTriggers: retrievalTriggers,
		freshnessTriggers: freshnessTriggers,
		llm:               llm,
	}
}

// Decide applies the rules only.
func (d *RetrievalDecider) Decide(query string) *RetrievalDecision {
	query = strings.TrimSpace(query)
	queryLower := strings.ToLower(query)
	words := strings.Fields(queryLower)

	// Rule 1: Very short queries - likely chitchat
	if len([]rune(query)) <= 2 {
		return &RetrievalDecision{ShouldRetrieve: false, Reason: ReasonChitchat, Confidence: 0.9}
	}

	// Rule 2: Chitchat - the whole message is a greeting or acknowledgement
	trimmed := strings.TrimRight(queryLower, "!.?~ ")
	for _, pattern := range d.chitchatPatterns {
		if trimmed == pattern {
			return &RetrievalDecision{ShouldRetrieve: false, Reason: ReasonChitchat, Confidence: 0.95}
		}
	}

	// Rule 3: Explicit retrieval triggers
	for _, trigger := range d.retrievalTriggers {
		if containsPhrase(queryLower, words, trigger) {
			return &RetrievalDecision{ShouldRetrieve: true, Reason: ReasonRetrievalTrigger, Confidence: 0.9}
		}
	}

	// Rule 4: Time-sensitive questions
	for _, trigger := range d.freshnessTriggers {
		if containsPhrase(queryLower, words, trigger) {
			return &RetrievalDecision{ShouldRetrieve: true, Reason: ReasonFreshness, Confidence: 0.85}
		}
	}

	// Rule 5: Default - lean towards retrieval for substantive questions
	if len(words) > 5 || strings.HasSuffix(query, "?") {
		return &RetrievalDecision{ShouldRetrieve: true, Reason: ReasonDefault, Confidence: undecidedConfidence}
	}

	return &RetrievalDecision{ShouldRetrieve: false, Reason: ReasonDefault, Confidence: 0.5}
}

// DecideContext applies the rules and asks the model when they are not
// confident. Model failures keep the rule decision.
func (d *RetrievalDecider) DecideContext(ctx context.Context, query string) *RetrievalDecision {
	decision := d.Decide(query)
	if d.llm == nil || decision.Confidence > undecidedConfidence {
		return decision
	}

	ctx, cancel := context.WithTimeout(ctx, decisionTimeout)
	defer cancel()

	answer, err := d.llm.Chat(ctx, []ai.Message{ai.UserMessage(fmt.Sprintf(needsRetrievalPrompt, query))})
	if err != nil {
		slog.Debug("retrieval decision model call failed, using rules", "error", err)
		return decision
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	switch {
	case strings.HasPrefix(answer, "no"):
		return &RetrievalDecision{ShouldRetrieve: false, Reason: ReasonModelJudgement, Confidence: 0.8}
	case strings.HasPrefix(answer, "yes"):
		return &RetrievalDecision{ShouldRetrieve: true, Reason: ReasonModelJudgement, Confidence: 0.8}
	default:
		// Anything but a clear no searches.
		return &RetrievalDecision{ShouldRetrieve: true, Reason: ReasonModelJudgement, Confidence: 0.6}
	}
}

// containsPhrase matches single words against whole words and phrases or
// CJK patterns as substrings.
func containsPhrase(queryLower string, words []string, pattern string) bool {
	if strings.Contains(pattern, " ") || !isASCII(pattern) {
		return strings.Contains(queryLower, pattern)
	}
	for _, w := range words {
		if strings.Trim(w, ".,!?;:\"'()") == pattern {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// DecideRetrieval is a convenience function for quick rule-only decisions.
func DecideRetrieval(query string) *RetrievalDecision {
	return NewRetrievalDecider(nil).Decide(query)
}
