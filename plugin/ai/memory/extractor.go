package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/timeout"
	"github.com/hrygo/calliope/store"
)

// ExtractionRequest carries the facts produced by one summary update.
type ExtractionRequest struct {
	OwnerID        int32
	ConversationID int32
	// TurnID is the assistant message the facts came from, when known.
	TurnID *int32
	Facts  []string
}

// ExtractionReport tells what happened to each fact of a request.
type ExtractionReport struct {
	Created []*store.MemoryRecord
	// Duplicates were already known for the owner.
	Duplicates []string
	// Discarded could not be categorized.
	Discarded []string
	// Failed hit a model or storage error.
	Failed []string
}

// Persisted counts facts that are now stored, including known duplicates.
func (r *ExtractionReport) Persisted() int {
	return len(r.Created) + len(r.Duplicates)
}

// Extractor turns extracted facts into categorized memory records.
// Facts are processed independently; one failing never stops the rest.
type Extractor struct {
	store  Store
	llm    ai.LLMService
	logger *slog.Logger
	now    func() time.Time
}

// NewExtractor creates an Extractor. Categorization calls follow policy.
func NewExtractor(st Store, llm ai.LLMService, policy ai.RetryPolicy) *Extractor {
	return &Extractor{
		store:  st,
		llm:    ai.NewRetryingLLM(llm, policy),
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetLogger replaces the default logger.
func (e *Extractor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Extract categorizes and stores every fact of req.
func (e *Extractor) Extract(ctx context.Context, req ExtractionRequest) *ExtractionReport {
	report := &ExtractionReport{}
	if len(req.Facts) == 0 {
		return report
	}
	logger := e.logger.With("owner_id", req.OwnerID, "conversation_id", req.ConversationID)

	active := true
	categories, err := e.store.ListMemoryCategories(ctx, &store.FindMemoryCategory{Active: &active})
	if err != nil || len(categories) == 0 {
		logger.Error("no memory categories available, skipping extraction", "error", err)
		report.Failed = append(report.Failed, req.Facts...)
		return report
	}

	for _, fact := range req.Facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}

		category, err := e.Categorize(ctx, fact, categories)
		if errors.Is(err, ErrUnrecognizedCategory) {
			logger.Warn("discarding fact with unrecognized category", "fact", timeout.Truncate(fact), "error", err)
			report.Discarded = append(report.Discarded, fact)
			continue
		}
		if err != nil {
			logger.Warn("fact categorization failed", "fact", timeout.Truncate(fact), "error", err)
			report.Failed = append(report.Failed, fact)
			continue
		}

		record, err := e.persist(ctx, req, fact, category)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			logger.Info("memory already known", "fact", timeout.Truncate(fact))
			report.Duplicates = append(report.Duplicates, fact)
		case err != nil:
			logger.Error("failed to persist memory", "fact", timeout.Truncate(fact), "error", err)
			report.Failed = append(report.Failed, fact)
		default:
			report.Created = append(report.Created, record)
		}
	}

	logger.Debug("memory extraction finished",
		"created", len(report.Created),
		"duplicates", len(report.Duplicates),
		"discarded", len(report.Discarded),
		"failed", len(report.Failed))
	return report
}

// Categorize asks the model for the single category that fits fact. The
// answer must equal one of the category names exactly, surrounding
// whitespace aside.
func (e *Extractor) Categorize(ctx context.Context, fact string, categories []*store.MemoryCategory) (*store.MemoryCategory, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout.CategorizeTimeout)
	defer cancel()

	answer, err := e.llm.Chat(callCtx, []ai.Message{ai.UserMessage(categorizePrompt(fact, categories))})
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	for _, c := range categories {
		if c.Name == answer {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognizedCategory, timeout.Truncate(answer))
}

func (e *Extractor) persist(ctx context.Context, req ExtractionRequest, fact string, category *store.MemoryCategory) (*store.MemoryRecord, error) {
	ts := e.now().Unix()
	convID := req.ConversationID
	return e.store.CreateMemoryRecord(ctx, &store.MemoryRecord{
		OwnerID:         req.OwnerID,
		CategoryID:      category.ID,
		Title:           truncateTitle(fact),
		Content:         fact,
		ImportanceScore: ExtractedImportance,
		ConfidenceScore: ExtractedConfidence,
		IsActive:        true,
		SourceType:      store.MemorySourceExtracted,
		CreatedTs:       ts,
		UpdatedTs:       ts,
		LastAccessedTs:  ts,
	}, &store.MemoryProvenance{
		ConversationID: &convID,
		TurnID:         req.TurnID,
		SourceType:     store.MemorySourceExtracted,
		CreatedTs:      ts,
	})
}

func categorizePrompt(fact string, categories []*store.MemoryCategory) string {
	var sb strings.Builder
	sb.WriteString("Given the following fact about a user, which category does it best fit into?\n\n")
	fmt.Fprintf(&sb, "Fact: %q\n\nCategories:\n", fact)
	for _, c := range categories {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Description)
	}
	sb.WriteString("\nRespond with ONLY the single, most appropriate category name from the list above.\nCategory:")
	return sb.String()
}
