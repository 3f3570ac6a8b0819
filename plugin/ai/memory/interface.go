// Package memory manages the durable facts kept about each user: extracting
// them from conversation summaries and serving them back, scoped to their owner.
package memory

import (
	"context"
	"errors"

	"github.com/hrygo/calliope/store"
)

var (
	// ErrUnauthorized is returned when a caller touches a record owned by someone else.
	ErrUnauthorized = errors.New("memory: not owned by caller")
	// ErrNotFound is returned when the record does not exist.
	ErrNotFound = errors.New("memory: not found")
	// ErrUnrecognizedCategory is returned when a categorization does not name
	// a configured category verbatim.
	ErrUnrecognizedCategory = errors.New("memory: unrecognized category")
	// ErrInvalidArgument is returned for empty content or out-of-range scores.
	ErrInvalidArgument = errors.New("memory: invalid argument")
)

// Default scores of extracted and manually created records.
const (
	ExtractedConfidence = 0.6
	ExtractedImportance = 0.5
	ManualConfidence    = 0.5
	DefaultImportance   = 0.5

	// VerifiedConfidence and UnverifiedConfidence are set by SetVerified.
	VerifiedConfidence   = 1.0
	UnverifiedConfidence = 0.4

	// DefaultRelevantLimit is the number of records RelevantFor returns.
	DefaultRelevantLimit = 5

	maxTitleLength = 150
)

// Store is the persistence the memory package needs.
type Store interface {
	ListMemoryCategories(ctx context.Context, find *store.FindMemoryCategory) ([]*store.MemoryCategory, error)
	CreateMemoryRecord(ctx context.Context, create *store.MemoryRecord, provenance *store.MemoryProvenance) (*store.MemoryRecord, error)
	ListMemoryRecords(ctx context.Context, find *store.FindMemoryRecord) ([]*store.MemoryRecord, error)
	GetMemoryRecord(ctx context.Context, id int32) (*store.MemoryRecord, error)
	CountMemoryRecords(ctx context.Context, find *store.FindMemoryRecord) (int, error)
	UpdateMemoryRecord(ctx context.Context, update *store.UpdateMemoryRecord) (*store.MemoryRecord, error)
	DeleteMemoryRecord(ctx context.Context, delete *store.DeleteMemoryRecord) error
	ListMemoryProvenances(ctx context.Context, find *store.FindMemoryProvenance) ([]*store.MemoryProvenance, error)
}

// Page is one page of records. Page numbers start at 1.
type Page struct {
	Items   []*store.MemoryRecord `json:"items"`
	Total   int                   `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
	Pages   int                   `json:"pages"`
	HasNext bool                  `json:"has_next"`
	HasPrev bool                  `json:"has_prev"`
}

// CreateRequest describes a manually entered memory.
type CreateRequest struct {
	CategoryID int32
	Title      string
	Content    string
	// Importance defaults to DefaultImportance when nil.
	Importance *float32
}

// UpdateRequest changes a memory. Nil fields are left untouched.
type UpdateRequest struct {
	CategoryID *int32
	Title      *string
	Content    *string
	Importance *float32
}

func truncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= maxTitleLength {
		return s
	}
	return string(runes[:maxTitleLength])
}
