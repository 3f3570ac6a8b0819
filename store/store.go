package store

import (
	"context"

	"github.com/hrygo/calliope/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.GetDB().PingContext(ctx)
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

// GetConversation returns the conversation with the given id or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id int32) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, &FindConversation{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	return s.driver.DeleteConversation(ctx, delete)
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) DeleteMessage(ctx context.Context, delete *DeleteMessage) error {
	return s.driver.DeleteMessage(ctx, delete)
}

func (s *Store) GetConversationSummary(ctx context.Context, conversationID int32) (*ConversationSummary, error) {
	return s.driver.GetConversationSummary(ctx, conversationID)
}

func (s *Store) CreateConversationSummary(ctx context.Context, create *ConversationSummary) (*ConversationSummary, error) {
	return s.driver.CreateConversationSummary(ctx, create)
}

func (s *Store) UpdateConversationSummary(ctx context.Context, update *UpdateConversationSummary) (*ConversationSummary, error) {
	return s.driver.UpdateConversationSummary(ctx, update)
}

func (s *Store) CreateMemoryCategory(ctx context.Context, create *MemoryCategory) (*MemoryCategory, error) {
	return s.driver.CreateMemoryCategory(ctx, create)
}

func (s *Store) ListMemoryCategories(ctx context.Context, find *FindMemoryCategory) ([]*MemoryCategory, error) {
	return s.driver.ListMemoryCategories(ctx, find)
}

func (s *Store) CreateMemoryRecord(ctx context.Context, create *MemoryRecord, provenance *MemoryProvenance) (*MemoryRecord, error) {
	return s.driver.CreateMemoryRecord(ctx, create, provenance)
}

func (s *Store) ListMemoryRecords(ctx context.Context, find *FindMemoryRecord) ([]*MemoryRecord, error) {
	return s.driver.ListMemoryRecords(ctx, find)
}

// GetMemoryRecord returns the memory record with the given id or ErrNotFound.
func (s *Store) GetMemoryRecord(ctx context.Context, id int32) (*MemoryRecord, error) {
	list, err := s.driver.ListMemoryRecords(ctx, &FindMemoryRecord{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) CountMemoryRecords(ctx context.Context, find *FindMemoryRecord) (int, error) {
	return s.driver.CountMemoryRecords(ctx, find)
}

func (s *Store) UpdateMemoryRecord(ctx context.Context, update *UpdateMemoryRecord) (*MemoryRecord, error) {
	return s.driver.UpdateMemoryRecord(ctx, update)
}

func (s *Store) DeleteMemoryRecord(ctx context.Context, delete *DeleteMemoryRecord) error {
	return s.driver.DeleteMemoryRecord(ctx, delete)
}

func (s *Store) ListMemoryProvenances(ctx context.Context, find *FindMemoryProvenance) ([]*MemoryProvenance, error) {
	return s.driver.ListMemoryProvenances(ctx, find)
}
