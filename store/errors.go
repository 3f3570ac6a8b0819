package store

import "errors"

var (
	// ErrNotFound is returned when a keyed lookup or update matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint,
	// e.g. a second memory record with the same (owner_id, content).
	ErrDuplicate = errors.New("store: duplicate")
	// ErrVersionConflict is returned when a conversation summary was changed
	// concurrently and no longer has the expected version.
	ErrVersionConflict = errors.New("store: version conflict")
)
