package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	aierrors "github.com/hrygo/calliope/server/internal/errors"
	"github.com/hrygo/calliope/server/service/chat"
	"github.com/hrygo/calliope/store"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	ConversationID int32  `json:"conversation_id"`
	Message        string `json:"message"`
	QuotedText     string `json:"quoted_text"`
	// Mode is auto, research or direct. UseSearch=true is the same as research.
	Mode      string `json:"mode"`
	UseSearch bool   `json:"use_search"`
}

type Conversation struct {
	ID        int32  `json:"id"`
	UID       string `json:"uid"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Message struct {
	ID        int32           `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type ConversationSummary struct {
	ConversationID  int32    `json:"conversation_id"`
	ShortSummary    string   `json:"short_summary"`
	DetailedSummary string   `json:"detailed_summary"`
	KeyTopics       []string `json:"key_topics"`
	ExtractedFacts  []string `json:"extracted_facts"`
	Version         int32    `json:"version"`
	UpdatedAt       string   `json:"updated_at"`
}

// PostChat answers one turn.
// POST /api/v1/chat
func (s *APIV1Service) PostChat(c echo.Context) error {
	var body ChatRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, aierrors.InvalidArgument("invalid request body"))
	}
	mode, err := parseMode(body.Mode, body.UseSearch)
	if err != nil {
		return writeError(c, err)
	}

	resp, err := s.Chat.Chat(c.Request().Context(), chat.Request{
		OwnerID:        currentOwner(c),
		ConversationID: body.ConversationID,
		Message:        body.Message,
		QuotedText:     body.QuotedText,
		Mode:           mode,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func parseMode(raw string, useSearch bool) (chat.Mode, error) {
	switch chat.Mode(raw) {
	case "":
		if useSearch {
			return chat.ModeResearch, nil
		}
		return chat.ModeAuto, nil
	case chat.ModeAuto, chat.ModeResearch, chat.ModeDirect:
		return chat.Mode(raw), nil
	default:
		return "", aierrors.InvalidArgument("unknown mode: " + raw)
	}
}

// ListConversations returns the caller's conversations.
// GET /api/v1/conversations
func (s *APIV1Service) ListConversations(c echo.Context) error {
	conversations, err := s.Chat.ListConversations(c.Request().Context(), currentOwner(c))
	if err != nil {
		return writeError(c, err)
	}
	out := make([]Conversation, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, convertConversationFromStore(conv))
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": out})
}

// ListConversationMessages returns the messages of an owned conversation.
// GET /api/v1/conversations/:id/messages
func (s *APIV1Service) ListConversationMessages(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	messages, err := s.Chat.ListMessages(c.Request().Context(), currentOwner(c), id)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, convertMessageFromStore(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": out})
}

// GetConversationSummary returns the layered summary of an owned conversation.
// GET /api/v1/conversations/:id/summary
func (s *APIV1Service) GetConversationSummary(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()
	if _, err := s.Chat.Conversation(ctx, currentOwner(c), id); err != nil {
		return writeError(c, err)
	}
	summary, err := s.Summaries.Get(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	if summary == nil {
		return writeError(c, aierrors.NotFound("summary"))
	}
	return c.JSON(http.StatusOK, convertSummaryFromStore(summary))
}

// DeleteConversation removes an owned conversation with its messages and summary.
// DELETE /api/v1/conversations/:id
func (s *APIV1Service) DeleteConversation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.Chat.DeleteConversation(c.Request().Context(), currentOwner(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func convertConversationFromStore(conv *store.Conversation) Conversation {
	return Conversation{
		ID:        conv.ID,
		UID:       conv.UID,
		Title:     conv.Title,
		CreatedAt: formatTs(conv.CreatedTs),
		UpdatedAt: formatTs(conv.UpdatedTs),
	}
}

func convertMessageFromStore(m *store.Message) Message {
	msg := Message{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: formatTs(m.CreatedTs),
	}
	if m.Metadata != "" && json.Valid([]byte(m.Metadata)) {
		msg.Metadata = json.RawMessage(m.Metadata)
	}
	return msg
}

func convertSummaryFromStore(sum *store.ConversationSummary) ConversationSummary {
	return ConversationSummary{
		ConversationID:  sum.ConversationID,
		ShortSummary:    sum.ShortSummary,
		DetailedSummary: sum.DetailedSummary,
		KeyTopics:       nonNil(sum.KeyTopics),
		ExtractedFacts:  nonNil(sum.ExtractedFacts),
		Version:         sum.Version,
		UpdatedAt:       formatTs(sum.UpdatedTs),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatTs(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
