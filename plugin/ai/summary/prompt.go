package summary

import (
	"fmt"
	"strings"

	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/store"
)

const systemPrompt = `You maintain a running, layered summary of a conversation between a user and an assistant.
Respond with ONLY a JSON object with exactly these keys:
  "short_summary": one sentence describing the whole conversation so far,
  "detailed_summary": a few paragraphs covering the whole conversation so far,
  "key_topics": an array of short topic strings for the whole conversation,
  "extracted_facts": an array of durable facts about the user learned from the LATEST exchange only.
Facts must be self-contained statements such as "User is a teacher". Do not repeat facts already listed below.
Use an empty array when the latest exchange reveals nothing new about the user.`

// BuildPrompt renders the consolidation request for one turn.
func BuildPrompt(previous *store.ConversationSummary, userTurn, assistantTurn string) []ai.Message {
	var sb strings.Builder
	sb.WriteString("Current summary:\n")
	if previous == nil || (previous.ShortSummary == "" && previous.DetailedSummary == "") {
		sb.WriteString("(the conversation just started)\n")
	} else {
		fmt.Fprintf(&sb, "Short: %s\n", previous.ShortSummary)
		fmt.Fprintf(&sb, "Detailed: %s\n", previous.DetailedSummary)
		fmt.Fprintf(&sb, "Key topics: %s\n", strings.Join(previous.KeyTopics, ", "))
	}
	if previous != nil && len(previous.ExtractedFacts) > 0 {
		sb.WriteString("Known facts:\n")
		for _, f := range previous.ExtractedFacts {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	sb.WriteString("\nLatest exchange:\n")
	fmt.Fprintf(&sb, "User: %s\n", userTurn)
	fmt.Fprintf(&sb, "Assistant: %s\n", assistantTurn)

	return []ai.Message{ai.SystemPrompt(systemPrompt), ai.UserMessage(sb.String())}
}
