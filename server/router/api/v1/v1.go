package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai/memory"
	"github.com/hrygo/calliope/plugin/ai/rag"
	aierrors "github.com/hrygo/calliope/server/internal/errors"
	"github.com/hrygo/calliope/server/internal/observability"
	ratelimit "github.com/hrygo/calliope/server/middleware"
	"github.com/hrygo/calliope/server/service/chat"
	"github.com/hrygo/calliope/store"
)

// Retriever builds the web context of a query.
type Retriever interface {
	GetContext(ctx context.Context, query string, k int) *rag.RetrievalContext
}

// SummaryReader reads conversation summaries.
type SummaryReader interface {
	Get(ctx context.Context, conversationID int32) (*store.ConversationSummary, error)
}

type APIV1Service struct {
	Profile   *profile.Profile
	Retriever Retriever
	Chat      *chat.Service
	Memories  *memory.Service
	Summaries SummaryReader
	Metrics   *observability.Metrics

	limiter *ratelimit.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, retriever Retriever, chatService *chat.Service, memories *memory.Service, summaries SummaryReader) *APIV1Service {
	return &APIV1Service{
		Profile:   profile,
		Retriever: retriever,
		Chat:      chatService,
		Memories:  memories,
		Summaries: summaries,
		Metrics:   observability.GlobalMetrics(),
		limiter:   ratelimit.NewRateLimiter(0, 0),
	}
}

// RegisterRoutes registers the JSON API with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")
	g.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, ratelimit.UserIDHeader},
	}))
	g.Use(s.limiter.Middleware())

	g.GET("/system/metrics/overview", s.GetMetricsOverview)

	owned := g.Group("", s.requireOwner)
	owned.GET("/context", s.GetContext)
	owned.POST("/chat", s.PostChat)
	owned.GET("/conversations", s.ListConversations)
	owned.GET("/conversations/:id/messages", s.ListConversationMessages)
	owned.GET("/conversations/:id/summary", s.GetConversationSummary)
	owned.DELETE("/conversations/:id", s.DeleteConversation)

	owned.GET("/memories", s.ListMemories)
	owned.POST("/memories", s.CreateMemory)
	owned.GET("/memories/categories", s.ListMemoryCategories)
	owned.PUT("/memories/:id", s.UpdateMemory)
	owned.DELETE("/memories/:id", s.DeleteMemory)
	owned.POST("/memories/:id/verify", s.VerifyMemory)
	owned.POST("/memories/:id/unverify", s.UnverifyMemory)
	owned.POST("/memories/:id/archive", s.ArchiveMemory)
	owned.GET("/memories/:id/provenance", s.ListMemoryProvenance)
}

const ownerContextKey = "owner_id"

// requireOwner resolves the caller from the owner header. Identity is
// established upstream; a missing or malformed value is rejected.
func (s *APIV1Service) requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := strings.TrimSpace(c.Request().Header.Get(ratelimit.UserIDHeader))
		id, err := strconv.ParseInt(raw, 10, 32)
		if raw == "" || err != nil || id <= 0 {
			return writeError(c, aierrors.Unauthorized("missing or invalid "+ratelimit.UserIDHeader+" header"))
		}
		ownerID := int32(id)
		c.Set(ownerContextKey, ownerID)

		rc := observability.NewRequestContext(slog.Default(), "api", ownerID)
		req := c.Request()
		c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), rc)))
		return next(c)
	}
}

func currentOwner(c echo.Context) int32 {
	id, _ := c.Get(ownerContextKey).(int32)
	return id
}

func pathID(c echo.Context) (int32, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id <= 0 {
		return 0, aierrors.InvalidArgument("invalid id: " + c.Param("id"))
	}
	return int32(id), nil
}

// queryInt reads an optional integer query parameter.
func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, aierrors.InvalidArgument("invalid " + name + ": " + raw)
	}
	return v, nil
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// toAIError maps service sentinels onto API error codes.
func toAIError(err error) *aierrors.AIError {
	var aiErr *aierrors.AIError
	switch {
	case errors.As(err, &aiErr):
		return aiErr
	case errors.Is(err, memory.ErrUnauthorized), errors.Is(err, chat.ErrUnauthorized):
		return aierrors.PermissionDenied("resource not owned by caller")
	case errors.Is(err, memory.ErrNotFound), errors.Is(err, chat.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return aierrors.Wrap(err, aierrors.ErrCodeNotFound, "not found")
	case errors.Is(err, memory.ErrInvalidArgument),
		errors.Is(err, memory.ErrUnrecognizedCategory),
		errors.Is(err, chat.ErrEmptyMessage):
		return aierrors.Wrap(err, aierrors.ErrCodeInvalidArgument, "invalid request")
	case errors.Is(err, store.ErrDuplicate):
		return aierrors.Wrap(err, aierrors.ErrCodeAlreadyExists, "memory already exists")
	case errors.Is(err, chat.ErrLLMUnavailable):
		return aierrors.Wrap(err, aierrors.ErrCodeLLMUnavailable, "language model unavailable")
	case errors.Is(err, context.Canceled):
		return aierrors.ContextCanceled(err)
	case errors.Is(err, context.DeadlineExceeded):
		return aierrors.Wrap(err, aierrors.ErrCodeTimeout, "request timed out")
	default:
		return aierrors.Internal("internal error", err)
	}
}

func writeError(c echo.Context, err error) error {
	aiErr := toAIError(err)
	status := aiErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		slog.Default().Error("API request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error_code", aiErr.Code,
			"error", err)
	}
	msg := aiErr.Message
	if aiErr.Cause != nil && status < http.StatusInternalServerError {
		msg = aiErr.Cause.Error()
	}
	return c.JSON(status, errorResponse{Code: string(aiErr.Code), Message: msg})
}
