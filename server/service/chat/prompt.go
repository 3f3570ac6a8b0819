package chat

import (
	"fmt"
	"strings"

	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/rag"
	"github.com/hrygo/calliope/store"
)

const directSystemPrompt = `You are a helpful AI assistant. Answer the user's query based on your knowledge.
If you're not sure about something, say so clearly.`

// QuoteQuery prefixes the user's message with the passage they quoted.
func QuoteQuery(quoted, message string) string {
	quoted = strings.TrimSpace(quoted)
	if quoted == "" {
		return message
	}
	return fmt.Sprintf("Regarding: '%s'\n\n%s", quoted, message)
}

const backgroundSystemPrompt = `You are a helpful AI assistant. Based on the following search results and your knowledge, answer the user's query.
If the search results are not relevant or insufficient, rely on your knowledge.`

// BuildMessages assembles the model input for one turn. With an empty
// retrieval context the prompt is direct; otherwise the context is either
// cited (every sourced span must be tagged) or plain background.
func BuildMessages(query string, history []ai.Message, memories []*store.MemoryRecord, rctx *rag.RetrievalContext, cited bool) []ai.Message {
	var sb strings.Builder
	switch {
	case rctx.IsEmpty():
		sb.WriteString(directSystemPrompt)
	case cited:
		sb.WriteString(rag.CitationInstructions(rctx.Sources))
		sb.WriteString("\nSearch results:\n")
		sb.WriteString(rctx.Context)
		sb.WriteString("\n")
	default:
		sb.WriteString(backgroundSystemPrompt)
		sb.WriteString("\n\nSearch results:\n")
		sb.WriteString(rctx.Context)
		sb.WriteString("\n")
	}

	if len(memories) > 0 {
		sb.WriteString("\n\nWhat you know about the user:\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.SystemPrompt(sb.String()))
	messages = append(messages, history...)
	messages = append(messages, ai.UserMessage(query))
	return messages
}
