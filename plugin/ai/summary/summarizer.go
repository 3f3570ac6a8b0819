// Package summary maintains the layered summary of each conversation.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/rag"
	"github.com/hrygo/calliope/plugin/ai/timeout"
	"github.com/hrygo/calliope/store"
)

// maxShortSummaryLength bounds short_summary in runes.
const maxShortSummaryLength = 500

// Store is the persistence the summarizer needs.
type Store interface {
	GetConversationSummary(ctx context.Context, conversationID int32) (*store.ConversationSummary, error)
	CreateConversationSummary(ctx context.Context, create *store.ConversationSummary) (*store.ConversationSummary, error)
	UpdateConversationSummary(ctx context.Context, update *store.UpdateConversationSummary) (*store.ConversationSummary, error)
}

// SkipReason explains why an update left the summary unchanged.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipCitedTurn       SkipReason = "cited_turn"
	SkipLLMUnavailable  SkipReason = "llm_unavailable"
	SkipMalformed       SkipReason = "malformed_response"
	SkipVersionConflict SkipReason = "version_conflict"
)

// UpdateResult is the outcome of one consolidation.
type UpdateResult struct {
	// Summary is the stored summary after the call.
	Summary *store.ConversationSummary
	// NewFacts are the facts the latest turn contributed. Empty unless Updated.
	NewFacts []string
	Updated  bool
	Skipped  SkipReason
}

// Summarizer folds each completed turn into the conversation summary.
// Updates to one conversation are serialized; different conversations
// proceed in parallel.
type Summarizer struct {
	store  Store
	llm    ai.LLMService
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewSummarizer creates a Summarizer. Model calls follow policy.
func NewSummarizer(st Store, llm ai.LLMService, policy ai.RetryPolicy) *Summarizer {
	return &Summarizer{
		store:  st,
		llm:    ai.NewRetryingLLM(llm, policy),
		locks:  newKeyedMutex(),
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetLogger replaces the default logger.
func (s *Summarizer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Get returns the summary of a conversation, or nil when none exists yet.
func (s *Summarizer) Get(ctx context.Context, conversationID int32) (*store.ConversationSummary, error) {
	return s.store.GetConversationSummary(ctx, conversationID)
}

// Ensure returns the summary of a conversation, creating an empty
// version 1 placeholder when the conversation has none.
func (s *Summarizer) Ensure(ctx context.Context, conversationID int32) (*store.ConversationSummary, error) {
	current, err := s.store.GetConversationSummary(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if current != nil {
		return current, nil
	}

	ts := s.now().Unix()
	created, err := s.store.CreateConversationSummary(ctx, &store.ConversationSummary{
		ConversationID: conversationID,
		KeyTopics:      []string{},
		ExtractedFacts: []string{},
		Version:        1,
		CreatedTs:      ts,
		UpdatedTs:      ts,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Another process created it first.
		return s.store.GetConversationSummary(ctx, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create summary: %w", err)
	}
	return created, nil
}

// Update consolidates the latest turn into the summary. Model failures,
// malformed responses and concurrent writers leave the stored summary
// unchanged and are reported through UpdateResult; only storage errors
// are returned.
func (s *Summarizer) Update(ctx context.Context, conversationID int32, userTurn, assistantTurn string) (*UpdateResult, error) {
	logger := s.logger.With("conversation_id", conversationID)

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	previous, err := s.Ensure(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if rag.ContainsCitations(assistantTurn) {
		logger.Debug("skipping cited turn for summarization")
		return &UpdateResult{Summary: previous, Skipped: SkipCitedTurn}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout.SummaryTimeout)
	defer cancel()

	response, err := s.llm.Chat(callCtx, BuildPrompt(previous, userTurn, assistantTurn))
	if err != nil {
		logger.Warn("summary generation failed, keeping previous summary", "error", err)
		return &UpdateResult{Summary: previous, Skipped: SkipLLMUnavailable}, nil
	}

	parsed, err := ParseResponse(response)
	if err != nil {
		logger.Warn("malformed summary response, keeping previous summary",
			"version", previous.Version,
			"response", timeout.Truncate(response),
			"error", err)
		return &UpdateResult{Summary: previous, Skipped: SkipMalformed}, nil
	}

	merged := Merge(previous, parsed)
	updated, err := s.store.UpdateConversationSummary(ctx, &store.UpdateConversationSummary{
		ConversationID:  conversationID,
		ExpectedVersion: previous.Version,
		ShortSummary:    merged.ShortSummary,
		DetailedSummary: merged.DetailedSummary,
		KeyTopics:       merged.KeyTopics,
		ExtractedFacts:  merged.ExtractedFacts,
		UpdatedTs:       s.now().Unix(),
	})
	if errors.Is(err, store.ErrVersionConflict) {
		logger.Warn("summary changed concurrently, skipping update", "expected_version", previous.Version)
		current, getErr := s.store.GetConversationSummary(ctx, conversationID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to reload summary: %w", getErr)
		}
		return &UpdateResult{Summary: current, Skipped: SkipVersionConflict}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update summary: %w", err)
	}

	var newFacts []string
	if parsed.ExtractedFacts != nil {
		newFacts = *parsed.ExtractedFacts
	}
	logger.Info("conversation summary updated",
		"version", updated.Version,
		"new_facts", len(newFacts))
	return &UpdateResult{Summary: updated, NewFacts: newFacts, Updated: true}, nil
}

// Merge applies a parsed update over previous. Absent fields keep their
// previous value. Version is left for the store to advance.
func Merge(previous *store.ConversationSummary, u *Update) *store.ConversationSummary {
	merged := *previous
	if u.ShortSummary != nil {
		merged.ShortSummary = truncateRunes(strings.TrimSpace(*u.ShortSummary), maxShortSummaryLength)
	}
	if u.DetailedSummary != nil {
		merged.DetailedSummary = strings.TrimSpace(*u.DetailedSummary)
	}
	if u.KeyTopics != nil {
		merged.KeyTopics = *u.KeyTopics
	}
	if u.ExtractedFacts != nil {
		merged.ExtractedFacts = *u.ExtractedFacts
	}
	return &merged
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
