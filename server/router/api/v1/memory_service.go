package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/calliope/plugin/ai/memory"
	aierrors "github.com/hrygo/calliope/server/internal/errors"
	"github.com/hrygo/calliope/store"
)

type Memory struct {
	ID              int32   `json:"id"`
	Title           string  `json:"title"`
	Content         string  `json:"content"`
	CategoryID      int32   `json:"category_id"`
	CategoryName    string  `json:"category_name"`
	ImportanceScore float32 `json:"importance_score"`
	ConfidenceScore float32 `json:"confidence_score"`
	IsVerified      bool    `json:"is_verified"`
	IsActive        bool    `json:"is_active"`
	SourceType      string  `json:"source_type"`
	CreatedAt       string  `json:"created_at"`
	LastAccessedAt  string  `json:"last_accessed_at"`
}

type MemoryCategory struct {
	ID          int32  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type MemoryProvenance struct {
	ID             int32  `json:"id"`
	ConversationID *int32 `json:"conversation_id,omitempty"`
	TurnID         *int32 `json:"turn_id,omitempty"`
	SourceType     string `json:"source_type"`
	CreatedAt      string `json:"created_at"`
}

type ListMemoriesResponse struct {
	Memories []Memory `json:"memories"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PerPage  int      `json:"per_page"`
	Pages    int      `json:"pages"`
	HasNext  bool     `json:"has_next"`
	HasPrev  bool     `json:"has_prev"`
}

type CreateMemoryRequest struct {
	CategoryID      int32    `json:"category_id"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	ImportanceScore *float32 `json:"importance_score"`
}

type UpdateMemoryRequest struct {
	CategoryID      *int32   `json:"category_id"`
	Title           *string  `json:"title"`
	Content         *string  `json:"content"`
	ImportanceScore *float32 `json:"importance_score"`
}

// ListMemories returns the caller's active memories, optionally in one category.
// GET /api/v1/memories?category_id=&page=&per_page=
func (s *APIV1Service) ListMemories(c echo.Context) error {
	categoryID, err := queryInt(c, "category_id", 0)
	if err != nil {
		return writeError(c, err)
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return writeError(c, err)
	}
	perPage, err := queryInt(c, "per_page", 0)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.Request().Context()
	ownerID := currentOwner(c)
	var result *memory.Page
	if categoryID > 0 {
		result, err = s.Memories.ListByCategory(ctx, ownerID, int32(categoryID), page, perPage)
	} else {
		result, err = s.Memories.ListAll(ctx, ownerID, page, perPage)
	}
	if err != nil {
		return writeError(c, err)
	}

	names := s.categoryNames(ctx)
	resp := ListMemoriesResponse{
		Memories: make([]Memory, 0, len(result.Items)),
		Total:    result.Total,
		Page:     result.Page,
		PerPage:  result.PerPage,
		Pages:    result.Pages,
		HasNext:  result.HasNext,
		HasPrev:  result.HasPrev,
	}
	for _, r := range result.Items {
		resp.Memories = append(resp.Memories, convertMemoryFromStore(r, names))
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateMemory adds a memory manually.
// POST /api/v1/memories
func (s *APIV1Service) CreateMemory(c echo.Context) error {
	var body CreateMemoryRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, aierrors.InvalidArgument("invalid request body"))
	}
	if body.CategoryID == 0 || body.Content == "" {
		return writeError(c, aierrors.InvalidArgument("category_id and content are required"))
	}
	ctx := c.Request().Context()
	record, err := s.Memories.Create(ctx, currentOwner(c), memory.CreateRequest{
		CategoryID: body.CategoryID,
		Title:      body.Title,
		Content:    body.Content,
		Importance: body.ImportanceScore,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, convertMemoryFromStore(record, s.categoryNames(ctx)))
}

// UpdateMemory changes the fields present in the body.
// PUT /api/v1/memories/:id
func (s *APIV1Service) UpdateMemory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var body UpdateMemoryRequest
	if err := c.Bind(&body); err != nil {
		return writeError(c, aierrors.InvalidArgument("invalid request body"))
	}
	ctx := c.Request().Context()
	record, err := s.Memories.Update(ctx, currentOwner(c), id, memory.UpdateRequest{
		CategoryID: body.CategoryID,
		Title:      body.Title,
		Content:    body.Content,
		Importance: body.ImportanceScore,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, convertMemoryFromStore(record, s.categoryNames(ctx)))
}

// DeleteMemory removes a memory permanently.
// DELETE /api/v1/memories/:id
func (s *APIV1Service) DeleteMemory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.Memories.Delete(c.Request().Context(), currentOwner(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// VerifyMemory POST /api/v1/memories/:id/verify
func (s *APIV1Service) VerifyMemory(c echo.Context) error {
	return s.setVerified(c, true)
}

// UnverifyMemory POST /api/v1/memories/:id/unverify
func (s *APIV1Service) UnverifyMemory(c echo.Context) error {
	return s.setVerified(c, false)
}

func (s *APIV1Service) setVerified(c echo.Context, verified bool) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()
	record, err := s.Memories.SetVerified(ctx, currentOwner(c), id, verified)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, convertMemoryFromStore(record, s.categoryNames(ctx)))
}

// ArchiveMemory hides a memory without deleting it.
// POST /api/v1/memories/:id/archive
func (s *APIV1Service) ArchiveMemory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()
	record, err := s.Memories.Archive(ctx, currentOwner(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, convertMemoryFromStore(record, s.categoryNames(ctx)))
}

// ListMemoryProvenance returns the turns a memory was derived from.
// GET /api/v1/memories/:id/provenance
func (s *APIV1Service) ListMemoryProvenance(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	provenance, err := s.Memories.Provenance(c.Request().Context(), currentOwner(c), id)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]MemoryProvenance, 0, len(provenance))
	for _, p := range provenance {
		out = append(out, MemoryProvenance{
			ID:             p.ID,
			ConversationID: p.ConversationID,
			TurnID:         p.TurnID,
			SourceType:     string(p.SourceType),
			CreatedAt:      formatTs(p.CreatedTs),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"provenance": out})
}

// ListMemoryCategories GET /api/v1/memories/categories
func (s *APIV1Service) ListMemoryCategories(c echo.Context) error {
	categories, err := s.Memories.ListCategories(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	out := make([]MemoryCategory, 0, len(categories))
	for _, cat := range categories {
		out = append(out, MemoryCategory{ID: cat.ID, Name: cat.Name, Description: cat.Description})
	}
	return c.JSON(http.StatusOK, out)
}

// categoryNames maps category IDs to names. A lookup failure only blanks the names.
func (s *APIV1Service) categoryNames(ctx context.Context) map[int32]string {
	categories, err := s.Memories.ListCategories(ctx)
	if err != nil {
		return nil
	}
	names := make(map[int32]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}
	return names
}

func convertMemoryFromStore(r *store.MemoryRecord, categoryNames map[int32]string) Memory {
	return Memory{
		ID:              r.ID,
		Title:           r.Title,
		Content:         r.Content,
		CategoryID:      r.CategoryID,
		CategoryName:    categoryNames[r.CategoryID],
		ImportanceScore: r.ImportanceScore,
		ConfidenceScore: r.ConfidenceScore,
		IsVerified:      r.IsVerified,
		IsActive:        r.IsActive,
		SourceType:      string(r.SourceType),
		CreatedAt:       formatTs(r.CreatedTs),
		LastAccessedAt:  formatTs(r.LastAccessedTs),
	}
}
