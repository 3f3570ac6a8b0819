package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Type returns the driver name used to pick the migration directory.
	Type() string

	IsInitialized(ctx context.Context) (bool, error)

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	DeleteMessage(ctx context.Context, delete *DeleteMessage) error

	// ConversationSummary model related methods.
	// GetConversationSummary returns (nil, nil) when the conversation has no summary yet.
	GetConversationSummary(ctx context.Context, conversationID int32) (*ConversationSummary, error)
	CreateConversationSummary(ctx context.Context, create *ConversationSummary) (*ConversationSummary, error)
	UpdateConversationSummary(ctx context.Context, update *UpdateConversationSummary) (*ConversationSummary, error)

	// MemoryCategory model related methods.
	CreateMemoryCategory(ctx context.Context, create *MemoryCategory) (*MemoryCategory, error)
	ListMemoryCategories(ctx context.Context, find *FindMemoryCategory) ([]*MemoryCategory, error)

	// MemoryRecord model related methods.
	// CreateMemoryRecord inserts the record and, when provenance is non-nil,
	// its provenance row in one transaction.
	CreateMemoryRecord(ctx context.Context, create *MemoryRecord, provenance *MemoryProvenance) (*MemoryRecord, error)
	ListMemoryRecords(ctx context.Context, find *FindMemoryRecord) ([]*MemoryRecord, error)
	CountMemoryRecords(ctx context.Context, find *FindMemoryRecord) (int, error)
	UpdateMemoryRecord(ctx context.Context, update *UpdateMemoryRecord) (*MemoryRecord, error)
	DeleteMemoryRecord(ctx context.Context, delete *DeleteMemoryRecord) error

	// MemoryProvenance model related methods.
	ListMemoryProvenances(ctx context.Context, find *FindMemoryProvenance) ([]*MemoryProvenance, error)
}
