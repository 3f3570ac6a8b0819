package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/calliope/store"
)

// Service exposes a user's memories. Every call names the owner
// explicitly; records of other owners are reported as ErrUnauthorized.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a memory service.
func NewService(st Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Create stores a manually entered memory.
func (s *Service) Create(ctx context.Context, ownerID int32, req CreateRequest) (*store.MemoryRecord, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	importance := float32(DefaultImportance)
	if req.Importance != nil {
		importance = *req.Importance
	}
	if err := validateScore(importance); err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = content
	}

	ts := s.now().Unix()
	record, err := s.store.CreateMemoryRecord(ctx, &store.MemoryRecord{
		OwnerID:         ownerID,
		CategoryID:      req.CategoryID,
		Title:           truncateTitle(title),
		Content:         content,
		ImportanceScore: importance,
		ConfidenceScore: ManualConfidence,
		IsActive:        true,
		SourceType:      store.MemorySourceManual,
		CreatedTs:       ts,
		UpdatedTs:       ts,
		LastAccessedTs:  ts,
	}, &store.MemoryProvenance{SourceType: store.MemorySourceManual, CreatedTs: ts})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}
	return record, nil
}

// Update changes the fields set in req.
func (s *Service) Update(ctx context.Context, ownerID, id int32, req UpdateRequest) (*store.MemoryRecord, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}

	ts := s.now().Unix()
	update := &store.UpdateMemoryRecord{ID: id, UpdatedTs: &ts}
	if req.CategoryID != nil {
		if err := s.checkCategory(ctx, *req.CategoryID); err != nil {
			return nil, err
		}
		update.CategoryID = req.CategoryID
	}
	if req.Title != nil {
		title := truncateTitle(strings.TrimSpace(*req.Title))
		update.Title = &title
	}
	if req.Content != nil {
		content := strings.TrimSpace(*req.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: content is required", ErrInvalidArgument)
		}
		update.Content = &content
	}
	if req.Importance != nil {
		if err := validateScore(*req.Importance); err != nil {
			return nil, err
		}
		update.ImportanceScore = req.Importance
	}
	return s.update(ctx, update)
}

// Delete removes a memory and its provenance for good.
func (s *Service) Delete(ctx context.Context, ownerID, id int32) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	err := s.store.DeleteMemoryRecord(ctx, &store.DeleteMemoryRecord{ID: id})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Archive hides a memory without deleting it.
func (s *Service) Archive(ctx context.Context, ownerID, id int32) (*store.MemoryRecord, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	ts := s.now().Unix()
	inactive := false
	return s.update(ctx, &store.UpdateMemoryRecord{ID: id, IsActive: &inactive, UpdatedTs: &ts})
}

// SetVerified records the user's confirmation or rejection of a memory.
// Verifying raises confidence to 1.0; unverifying lowers it to 0.4.
func (s *Service) SetVerified(ctx context.Context, ownerID, id int32, verified bool) (*store.MemoryRecord, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	confidence := float32(UnverifiedConfidence)
	if verified {
		confidence = VerifiedConfidence
	}
	ts := s.now().Unix()
	return s.update(ctx, &store.UpdateMemoryRecord{
		ID:              id,
		IsVerified:      &verified,
		ConfidenceScore: &confidence,
		UpdatedTs:       &ts,
	})
}

// ListByCategory returns the owner's active memories in one category, most important first.
func (s *Service) ListByCategory(ctx context.Context, ownerID, categoryID int32, page, perPage int) (*Page, error) {
	active := true
	return s.list(ctx, &store.FindMemoryRecord{
		OwnerID:    &ownerID,
		CategoryID: &categoryID,
		IsActive:   &active,
		OrderBy:    store.OrderByImportance,
	}, page, perPage)
}

// ListAll returns the owner's active memories, most recently used first.
func (s *Service) ListAll(ctx context.Context, ownerID int32, page, perPage int) (*Page, error) {
	active := true
	return s.list(ctx, &store.FindMemoryRecord{
		OwnerID:  &ownerID,
		IsActive: &active,
		OrderBy:  store.OrderByLastAccessed,
	}, page, perPage)
}

// RelevantFor returns the owner's active, verified memories ordered by
// importance then recency. limit <= 0 means DefaultRelevantLimit.
func (s *Service) RelevantFor(ctx context.Context, ownerID int32, limit int) ([]*store.MemoryRecord, error) {
	if limit <= 0 {
		limit = DefaultRelevantLimit
	}
	active, verified := true, true
	records, err := s.store.ListMemoryRecords(ctx, &store.FindMemoryRecord{
		OwnerID:    &ownerID,
		IsActive:   &active,
		IsVerified: &verified,
		OrderBy:    store.OrderByImportance,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list relevant memories: %w", err)
	}
	return records, nil
}

// MarkAccessed bumps last_accessed_at of memories that were put into a prompt.
// Failures are logged; they never fail the turn.
func (s *Service) MarkAccessed(ctx context.Context, records []*store.MemoryRecord) {
	ts := s.now().Unix()
	for _, r := range records {
		if _, err := s.store.UpdateMemoryRecord(ctx, &store.UpdateMemoryRecord{ID: r.ID, LastAccessedTs: &ts}); err != nil {
			slog.Warn("failed to mark memory accessed", "memory_id", r.ID, "error", err)
			continue
		}
		r.LastAccessedTs = ts
	}
}

// Provenance returns the turns an owned memory was derived from.
func (s *Service) Provenance(ctx context.Context, ownerID, id int32) ([]*store.MemoryProvenance, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.store.ListMemoryProvenances(ctx, &store.FindMemoryProvenance{MemoryID: &id})
}

// ListCategories returns the active categories ordered by name.
func (s *Service) ListCategories(ctx context.Context) ([]*store.MemoryCategory, error) {
	active := true
	return s.store.ListMemoryCategories(ctx, &store.FindMemoryCategory{Active: &active})
}

func (s *Service) owned(ctx context.Context, ownerID, id int32) (*store.MemoryRecord, error) {
	record, err := s.store.GetMemoryRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return record, nil
}

func (s *Service) update(ctx context.Context, update *store.UpdateMemoryRecord) (*store.MemoryRecord, error) {
	record, err := s.store.UpdateMemoryRecord(ctx, update)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}
	return record, nil
}

func (s *Service) checkCategory(ctx context.Context, categoryID int32) error {
	active := true
	categories, err := s.store.ListMemoryCategories(ctx, &store.FindMemoryCategory{ID: &categoryID, Active: &active})
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		return fmt.Errorf("%w: category %d", ErrUnrecognizedCategory, categoryID)
	}
	return nil
}

func (s *Service) list(ctx context.Context, find *store.FindMemoryRecord, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	total, err := s.store.CountMemoryRecords(ctx, find)
	if err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}
	find.Limit = perPage
	find.Offset = (page - 1) * perPage
	items, err := s.store.ListMemoryRecords(ctx, find)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	pages := (total + perPage - 1) / perPage
	return &Page{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	}, nil
}

func validateScore(v float32) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: score %.2f outside [0, 1]", ErrInvalidArgument, v)
	}
	return nil
}
