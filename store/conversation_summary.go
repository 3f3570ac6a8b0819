package store

// ConversationSummary is the layered summary of one conversation.
// There is at most one row per conversation; Version starts at 1 and only
// ever grows by one per successful consolidation.
type ConversationSummary struct {
	ID              int32
	ConversationID  int32
	ShortSummary    string
	DetailedSummary string
	KeyTopics       []string
	ExtractedFacts  []string
	Version         int32
	CreatedTs       int64
	UpdatedTs       int64
}

// UpdateConversationSummary replaces the summary fields of a conversation.
// The row is only written when its stored version equals ExpectedVersion,
// in which case the version is bumped to ExpectedVersion+1.
type UpdateConversationSummary struct {
	ConversationID  int32
	ExpectedVersion int32
	ShortSummary    string
	DetailedSummary string
	KeyTopics       []string
	ExtractedFacts  []string
	UpdatedTs       int64
}
