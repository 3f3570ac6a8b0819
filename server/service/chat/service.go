// Package chat answers one user turn: it decides whether to search the
// web, builds the prompt from retrieved sources, memories and recent
// history, persists the exchange and hands it to consolidation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/budget"
	"github.com/hrygo/calliope/plugin/ai/memory"
	"github.com/hrygo/calliope/plugin/ai/rag"
	"github.com/hrygo/calliope/plugin/ai/timeout"
	"github.com/hrygo/calliope/server/internal/observability"
	"github.com/hrygo/calliope/server/runner/consolidation"
	"github.com/hrygo/calliope/store"
)

var (
	// ErrUnauthorized is returned when the conversation belongs to someone else.
	ErrUnauthorized = errors.New("chat: conversation not owned by caller")
	// ErrNotFound is returned for an unknown conversation.
	ErrNotFound = errors.New("chat: conversation not found")
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrLLMUnavailable is returned when no reply could be generated.
	ErrLLMUnavailable = errors.New("chat: language model unavailable")
)

const (
	defaultHistorySize = 10
	maxTitleLength     = 50
)

// Mode selects how a turn uses web retrieval.
type Mode string

const (
	// ModeAuto lets the retrieval decision choose.
	ModeAuto Mode = "auto"
	// ModeResearch always searches and answers in cited mode.
	ModeResearch Mode = "research"
	// ModeDirect never searches.
	ModeDirect Mode = "direct"
)

// Store is the conversation persistence the chat service needs.
type Store interface {
	CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error)
	GetConversation(ctx context.Context, id int32) (*store.Conversation, error)
	ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
}

// Retriever builds the web context of a query.
type Retriever interface {
	GetContext(ctx context.Context, query string, k int) *rag.RetrievalContext
}

// MemoryProvider supplies the memories injected into prompts.
type MemoryProvider interface {
	RelevantFor(ctx context.Context, ownerID int32, limit int) ([]*store.MemoryRecord, error)
	MarkAccessed(ctx context.Context, records []*store.MemoryRecord)
}

// Consolidator accepts finished turns for background processing.
type Consolidator interface {
	Enqueue(job consolidation.Job) bool
}

// Request is one user turn.
type Request struct {
	OwnerID int32
	// ConversationID is 0 to start a new conversation.
	ConversationID int32
	Message        string
	QuotedText     string
	Mode           Mode
}

// Response is the answer to a turn.
type Response struct {
	ConversationID int32                   `json:"conversation_id"`
	MessageID      int32                   `json:"message_id"`
	Reply          string                  `json:"reply"`
	Research       bool                    `json:"research"`
	Sources        []rag.Source            `json:"sources"`
	Decision       *rag.RetrievalDecision  `json:"decision"`
	Violations     []rag.CitationViolation `json:"violations,omitempty"`
	MemoriesUsed   int                     `json:"memories_used"`
}

// MessageMetadata is stored with every assistant message.
type MessageMetadata struct {
	Research bool         `json:"research"`
	Sources  []rag.Source `json:"sources,omitempty"`
	Decision string       `json:"decision,omitempty"`
}

// Service orchestrates chat turns.
type Service struct {
	store        Store
	llm          ai.LLMService
	retriever    Retriever
	decider      *rag.RetrievalDecider
	memories     MemoryProvider
	consolidator Consolidator
	window       *memory.ConversationWindow
	topK         int
	historySize  int
	maxTokens    int
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTopK sets the number of sources per research answer.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithTokenBudget bounds the prompt size; history and memories are trimmed to fit.
func WithTokenBudget(tokens int) Option {
	return func(s *Service) {
		if tokens > 0 {
			s.maxTokens = tokens
		}
	}
}

// WithWindow serves recent history from an in-memory window.
func WithWindow(w *memory.ConversationWindow) Option {
	return func(s *Service) { s.window = w }
}

// WithDecider replaces the default retrieval decider.
func WithDecider(d *rag.RetrievalDecider) Option {
	return func(s *Service) { s.decider = d }
}

// NewService creates a chat service. retriever, memories and consolidator may be nil.
func NewService(st Store, llm ai.LLMService, retriever Retriever, memories MemoryProvider, consolidator Consolidator, opts ...Option) *Service {
	s := &Service{
		store:        st,
		llm:          llm,
		retriever:    retriever,
		decider:      rag.NewRetrievalDecider(llm),
		memories:     memories,
		consolidator: consolidator,
		topK:         rag.DefaultTopK,
		historySize:  defaultHistorySize,
		maxTokens:    budget.DefaultMaxTokens,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat answers one turn and persists it.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if s.llm == nil {
		return nil, ErrLLMUnavailable
	}

	rc := observability.NewRequestContext(slog.Default(), observability.StageChat, req.OwnerID)
	ctx = observability.WithRequestContext(ctx, rc)
	metrics := observability.GlobalMetrics()

	conv, err := s.conversation(ctx, req.OwnerID, req.ConversationID, message)
	if err != nil {
		return nil, err
	}
	convAttr := slog.Int64(observability.LogFieldConversationID, int64(conv.ID))

	query := QuoteQuery(req.QuotedText, message)
	decision := s.decide(ctx, req.Mode, query)

	rctx := rag.EmptyContext()
	if decision.ShouldRetrieve && s.retriever != nil {
		rctx = s.retriever.GetContext(ctx, query, s.topK)
	}
	// Only research turns answer in cited mode; retrieval in auto mode is
	// background for a free-form answer.
	research := req.Mode == ModeResearch && !rctx.IsEmpty()

	tb := budget.Allocate(s.maxTokens, !rctx.IsEmpty())
	memories := s.relevantMemories(ctx, rc, req.OwnerID, tb.Memories)
	history := budget.FitHistory(s.history(ctx, conv.ID), tb.History)

	genCtx, cancel := context.WithTimeout(ctx, timeout.ResponseTimeout)
	defer cancel()
	start := time.Now()
	reply, err := s.llm.Chat(genCtx, BuildMessages(query, history, memories, rctx, research))
	metrics.Record(observability.StageChat, time.Since(start), err)
	if err != nil {
		rc.Error("reply generation failed", err, convAttr)
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	var violations []rag.CitationViolation
	if research {
		violations = rag.ValidateCitations(reply, rctx.Sources)
		if len(violations) > 0 {
			rc.Warn("cited reply breaks citation contract",
				convAttr,
				slog.Int("violations", len(violations)),
				slog.String("first", violations[0].String()))
		}
	}

	assistant, err := s.persist(ctx, conv, query, reply, MessageMetadata{
		Research: research,
		Sources:  rctx.Sources,
		Decision: decision.Reason,
	})
	if err != nil {
		return nil, err
	}

	if s.consolidator != nil {
		s.consolidator.Enqueue(consolidation.Job{
			OwnerID:        req.OwnerID,
			ConversationID: conv.ID,
			TurnID:         &assistant.ID,
			UserTurn:       query,
			AssistantTurn:  reply,
		})
	}

	rc.Info("chat turn completed",
		convAttr,
		slog.Bool("research", research),
		slog.String("decision", decision.Reason),
		slog.Int("sources", len(rctx.Sources)),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()))

	return &Response{
		ConversationID: conv.ID,
		MessageID:      assistant.ID,
		Reply:          reply,
		Research:       research,
		Sources:        rctx.Sources,
		Decision:       decision,
		Violations:     violations,
		MemoriesUsed:   len(memories),
	}, nil
}

// Conversation returns a conversation owned by ownerID.
func (s *Service) Conversation(ctx context.Context, ownerID, id int32) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if conv.CreatorID != ownerID {
		return nil, ErrUnauthorized
	}
	return conv, nil
}

// ListConversations returns the owner's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, ownerID int32) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, &store.FindConversation{CreatorID: &ownerID})
}

// ListMessages returns the messages of an owned conversation in order.
func (s *Service) ListMessages(ctx context.Context, ownerID, conversationID int32) ([]*store.Message, error) {
	if _, err := s.Conversation(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
}

// DeleteConversation removes an owned conversation with its messages and
// summary, and drops it from the history window.
func (s *Service) DeleteConversation(ctx context.Context, ownerID, id int32) error {
	if _, err := s.Conversation(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.store.DeleteConversation(ctx, &store.DeleteConversation{ID: id}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if s.window != nil {
		s.window.Forget(id)
	}
	return nil
}

func (s *Service) conversation(ctx context.Context, ownerID, id int32, firstMessage string) (*store.Conversation, error) {
	if id != 0 {
		return s.Conversation(ctx, ownerID, id)
	}
	ts := s.now().Unix()
	conv, err := s.store.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		CreatorID: ownerID,
		Title:     conversationTitle(firstMessage),
		CreatedTs: ts,
		UpdatedTs: ts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) decide(ctx context.Context, mode Mode, query string) *rag.RetrievalDecision {
	switch mode {
	case ModeResearch:
		return &rag.RetrievalDecision{ShouldRetrieve: true, Reason: rag.ReasonForced, Confidence: 1}
	case ModeDirect:
		return &rag.RetrievalDecision{ShouldRetrieve: false, Reason: rag.ReasonForced, Confidence: 1}
	default:
		return s.decider.DecideContext(ctx, query)
	}
}

func (s *Service) relevantMemories(ctx context.Context, rc *observability.RequestContext, ownerID int32, tokens int) []*store.MemoryRecord {
	if s.memories == nil {
		return nil
	}
	records, err := s.memories.RelevantFor(ctx, ownerID, memory.DefaultRelevantLimit)
	if err != nil {
		rc.Warn("failed to load memories, answering without them", slog.String("error", err.Error()))
		return nil
	}
	records = budget.Fit(records, tokens, func(r *store.MemoryRecord) int {
		return budget.EstimateTokens(r.Content)
	})
	s.memories.MarkAccessed(ctx, records)
	return records
}

// history returns the recent turns, from the window when it holds the
// conversation and from the store otherwise.
func (s *Service) history(ctx context.Context, conversationID int32) []ai.Message {
	if s.window != nil {
		if recent, ok := s.window.Recent(conversationID, s.historySize); ok {
			return recent
		}
	}

	stored, err := s.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID, Limit: s.historySize})
	if err != nil {
		slog.Warn("failed to load conversation history", "conversation_id", conversationID, "error", err)
		return nil
	}
	history := make([]ai.Message, 0, len(stored))
	for _, m := range stored {
		switch m.Role {
		case store.MessageRoleUser:
			history = append(history, ai.UserMessage(m.Content))
		case store.MessageRoleAssistant:
			history = append(history, ai.AssistantMessage(m.Content))
		}
	}
	if s.window != nil && len(history) > 0 {
		s.window.Append(conversationID, history...)
	}
	return history
}

func (s *Service) persist(ctx context.Context, conv *store.Conversation, query, reply string, meta MessageMetadata) (*store.Message, error) {
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message metadata: %w", err)
	}

	ts := s.now().Unix()
	if _, err := s.store.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conv.ID,
		Role:           store.MessageRoleUser,
		Content:        query,
		Metadata:       "{}",
		CreatedTs:      ts,
	}); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	assistant, err := s.store.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conv.ID,
		Role:           store.MessageRoleAssistant,
		Content:        reply,
		Metadata:       string(metadata),
		CreatedTs:      ts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}
	if _, err := s.store.UpdateConversation(ctx, &store.UpdateConversation{ID: conv.ID, UpdatedTs: &ts}); err != nil {
		slog.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}

	if s.window != nil {
		s.window.Append(conv.ID, ai.UserMessage(query), ai.AssistantMessage(reply))
	}
	return assistant, nil
}

func conversationTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		return string(runes[:maxTitleLength]) + "..."
	}
	return title
}
