package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/calliope/store"
)

const summaryColumns = `id, conversation_id, short_summary, detailed_summary, key_topics, extracted_facts, version, created_ts, updated_ts`

func (d *DB) GetConversationSummary(ctx context.Context, conversationID int32) (*store.ConversationSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM conversation_summary WHERE conversation_id = ` + placeholder(1)
	summary, err := scanSummary(d.db.QueryRowContext(ctx, query, conversationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation_summary: %w", err)
	}
	return summary, nil
}

func (d *DB) CreateConversationSummary(ctx context.Context, create *store.ConversationSummary) (*store.ConversationSummary, error) {
	keyTopics, err := marshalStrings(create.KeyTopics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key_topics: %w", err)
	}
	facts, err := marshalStrings(create.ExtractedFacts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extracted_facts: %w", err)
	}
	if create.Version < 1 {
		create.Version = 1
	}

	fields := []string{"conversation_id", "short_summary", "detailed_summary", "key_topics", "extracted_facts", "version", "created_ts", "updated_ts"}
	args := []any{create.ConversationID, create.ShortSummary, create.DetailedSummary, keyTopics, facts, create.Version, create.CreatedTs, create.UpdatedTs}
	stmt := `INSERT INTO conversation_summary (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING ` + summaryColumns
	summary, err := scanSummary(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create conversation_summary: %w", err)
	}
	return summary, nil
}

func (d *DB) UpdateConversationSummary(ctx context.Context, update *store.UpdateConversationSummary) (*store.ConversationSummary, error) {
	keyTopics, err := marshalStrings(update.KeyTopics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key_topics: %w", err)
	}
	facts, err := marshalStrings(update.ExtractedFacts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extracted_facts: %w", err)
	}

	set := []string{"short_summary", "detailed_summary", "key_topics", "extracted_facts", "updated_ts"}
	args := []any{update.ShortSummary, update.DetailedSummary, keyTopics, facts, update.UpdatedTs}
	for i := range set {
		set[i] = set[i] + " = " + placeholder(i+1)
	}
	set = append(set, "version = version + 1")
	args = append(args, update.ConversationID, update.ExpectedVersion)

	stmt := `UPDATE conversation_summary SET ` + strings.Join(set, ", ") +
		` WHERE conversation_id = ` + placeholder(len(args)-1) + ` AND version = ` + placeholder(len(args)) +
		` RETURNING ` + summaryColumns
	summary, err := scanSummary(d.db.QueryRowContext(ctx, stmt, args...))
	if err == sql.ErrNoRows {
		current, getErr := d.GetConversationSummary(ctx, update.ConversationID)
		if getErr != nil {
			return nil, getErr
		}
		if current == nil {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation_summary: %w", err)
	}
	return summary, nil
}

func scanSummary(row *sql.Row) (*store.ConversationSummary, error) {
	s := &store.ConversationSummary{}
	var keyTopics, facts string
	if err := row.Scan(&s.ID, &s.ConversationID, &s.ShortSummary, &s.DetailedSummary, &keyTopics, &facts, &s.Version, &s.CreatedTs, &s.UpdatedTs); err != nil {
		return nil, err
	}
	var err error
	if s.KeyTopics, err = unmarshalStrings(keyTopics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key_topics: %w", err)
	}
	if s.ExtractedFacts, err = unmarshalStrings(facts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extracted_facts: %w", err)
	}
	return s, nil
}
