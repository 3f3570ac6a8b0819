package store

// MemorySourceType records how a memory record came to exist.
type MemorySourceType string

const (
	MemorySourceManual    MemorySourceType = "manual"
	MemorySourceExtracted MemorySourceType = "extracted"
)

// MemoryCategory is one entry of the seeded memory taxonomy.
type MemoryCategory struct {
	ID          int32
	Name        string
	Description string
	Active      bool
}

type FindMemoryCategory struct {
	ID     *int32
	Name   *string
	Active *bool
}

// MemoryRecord is a durable fact about a user.
// (OwnerID, Content) is unique.
type MemoryRecord struct {
	ID              int32
	OwnerID         int32
	CategoryID      int32
	Title           string
	Content         string
	ImportanceScore float32
	ConfidenceScore float32
	IsVerified      bool
	IsActive        bool
	SourceType      MemorySourceType
	CreatedTs       int64
	UpdatedTs       int64
	LastAccessedTs  int64
}

// MemoryRecordOrder selects the ordering of ListMemoryRecords.
type MemoryRecordOrder int

const (
	// OrderByLastAccessed orders by last_accessed_ts desc.
	OrderByLastAccessed MemoryRecordOrder = iota
	// OrderByImportance orders by importance_score desc, last_accessed_ts desc.
	OrderByImportance
)

type FindMemoryRecord struct {
	ID         *int32
	OwnerID    *int32
	CategoryID *int32
	IsActive   *bool
	IsVerified *bool

	OrderBy MemoryRecordOrder
	Limit   int
	Offset  int
}

type UpdateMemoryRecord struct {
	ID              int32
	CategoryID      *int32
	Title           *string
	Content         *string
	ImportanceScore *float32
	ConfidenceScore *float32
	IsVerified      *bool
	IsActive        *bool
	LastAccessedTs  *int64
	UpdatedTs       *int64
}

type DeleteMemoryRecord struct {
	ID int32
}

// MemoryProvenance links a memory record to the turn it was derived from.
type MemoryProvenance struct {
	ID             int32
	MemoryID       int32
	ConversationID *int32
	TurnID         *int32
	SourceType     MemorySourceType
	CreatedTs      int64
}

type FindMemoryProvenance struct {
	MemoryID       *int32
	ConversationID *int32
}
