package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/calliope/plugin/ai/rag"
	aierrors "github.com/hrygo/calliope/server/internal/errors"
)

const maxContextDocuments = 10

// ContextResponse is the retrieval result of a query.
type ContextResponse struct {
	Query   string       `json:"query"`
	Context string       `json:"context"`
	Sources []rag.Source `json:"sources"`
}

// GetContext returns the citation-addressable web context of a query.
// GET /api/v1/context?q=...&k=3
func (s *APIV1Service) GetContext(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return writeError(c, aierrors.InvalidArgument("query parameter q is required"))
	}
	k, err := queryInt(c, "k", rag.DefaultTopK)
	if err != nil {
		return writeError(c, err)
	}
	if k < 1 || k > maxContextDocuments {
		return writeError(c, aierrors.InvalidArgument("k must be between 1 and 10"))
	}

	rctx := s.Retriever.GetContext(c.Request().Context(), query, k)
	return c.JSON(http.StatusOK, ContextResponse{
		Query:   query,
		Context: rctx.Context,
		Sources: rctx.Sources,
	})
}
