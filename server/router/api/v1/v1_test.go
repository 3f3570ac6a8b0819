package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/memory"
	"github.com/hrygo/calliope/plugin/ai/rag"
	"github.com/hrygo/calliope/plugin/ai/summary"
	"github.com/hrygo/calliope/plugin/search"
	"github.com/hrygo/calliope/server/internal/observability"
	"github.com/hrygo/calliope/server/middleware"
	"github.com/hrygo/calliope/server/service/chat"
	"github.com/hrygo/calliope/store"
	teststore "github.com/hrygo/calliope/store/test"
)

type stubRetriever struct {
	queries []string
	ks      []int
}

func (r *stubRetriever) GetContext(_ context.Context, query string, k int) *rag.RetrievalContext {
	r.queries = append(r.queries, query)
	r.ks = append(r.ks, k)
	return rag.Assemble([]rag.RankedDocument{{
		Result: search.Result{
			Title: "Go",
			URL:   "https://go.dev",
			Text:  "Go is an open source programming language.",
		},
	}})
}

type apiFixture struct {
	store     *store.Store
	retriever *stubRetriever
	llm       *ai.MockLLMService
	echo      *echo.Echo
	service   *APIV1Service
}

func newAPIFixture(t *testing.T, responses ...string) *apiFixture {
	t.Helper()
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	llm := ai.NewMockLLMService(responses...)
	retriever := &stubRetriever{}
	memories := memory.NewService(st)
	chatService := chat.NewService(st, llm, retriever, memories, nil)
	summarizer := summary.NewSummarizer(st, llm, ai.RetryPolicy{MaxAttempts: 1})

	service := NewAPIV1Service(&profile.Profile{Mode: "dev"}, retriever, chatService, memories, summarizer)
	service.Metrics = observability.NewMetrics()
	e := echo.New()
	service.RegisterRoutes(e)
	return &apiFixture{store: st, retriever: retriever, llm: llm, echo: e, service: service}
}

func (f *apiFixture) do(t *testing.T, method, target, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) categoryID(t *testing.T, name string) int32 {
	t.Helper()
	categories, err := f.store.ListMemoryCategories(context.Background(), &store.FindMemoryCategory{Name: &name})
	require.NoError(t, err)
	require.Len(t, categories, 1)
	return categories[0].ID
}

func TestOwnerHeaderRequired(t *testing.T) {
	f := newAPIFixture(t, "ok")
	tests := []struct {
		name string
		user string
	}{
		{"missing", ""},
		{"not a number", "alice"},
		{"zero", "0"},
		{"negative", "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/v1/memories", tt.user, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", decode[errorResponse](t, rec).Code)
		})
	}
}

func TestGetContext(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/context?q=what+is+go&k=2", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ContextResponse](t, rec)
	assert.Equal(t, "what is go", resp.Query)
	assert.Contains(t, resp.Context, "Source [1]: Go is an open source programming language.")
	assert.Equal(t, []rag.Source{{ID: 1, Title: "Go", URL: "https://go.dev"}}, resp.Sources)
	assert.Equal(t, []int{2}, f.retriever.ks)

	for _, target := range []string{"/api/v1/context", "/api/v1/context?q=go&k=0", "/api/v1/context?q=go&k=abc"} {
		rec := f.do(t, http.MethodGet, target, "1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestPostChat(t *testing.T) {
	f := newAPIFixture(t, "[s:1]Go is open source.[/s:1]")

	rec := f.do(t, http.MethodPost, "/api/v1/chat", "1", ChatRequest{Message: "What is Go?", UseSearch: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[chat.Response](t, rec)
	assert.True(t, resp.Research)
	assert.Equal(t, "[s:1]Go is open source.[/s:1]", resp.Reply)
	assert.Len(t, resp.Sources, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conversations := decode[map[string][]Conversation](t, rec)["conversations"]
	require.Len(t, conversations, 1)
	assert.Equal(t, "What is Go?", conversations[0].Title)

	target := fmt.Sprintf("/api/v1/conversations/%d/messages", resp.ConversationID)
	rec = f.do(t, http.MethodGet, target, "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decode[map[string][]Message](t, rec)["messages"]
	require.Len(t, messages, 2)
	assert.Equal(t, "ASSISTANT", messages[1].Role)
	assert.JSONEq(t, `{"research":true,"sources":[{"id":1,"title":"Go","url":"https://go.dev"}],"decision":"forced"}`, string(messages[1].Metadata))

	// Someone else's conversation.
	rec = f.do(t, http.MethodGet, target, "2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PERMISSION_DENIED", decode[errorResponse](t, rec).Code)
}

func TestPostChatErrors(t *testing.T) {
	f := newAPIFixture(t, "ok")
	tests := []struct {
		name   string
		body   ChatRequest
		status int
		code   string
	}{
		{"empty message", ChatRequest{Message: "  "}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown mode", ChatRequest{Message: "hi", Mode: "turbo"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown conversation", ChatRequest{Message: "hi", ConversationID: 4242, Mode: "direct"}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/chat", "1", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Code)
		})
	}

	f.llm.FailNext(fmt.Errorf("upstream 503"))
	rec := f.do(t, http.MethodPost, "/api/v1/chat", "1", ChatRequest{Message: "hi", Mode: "direct"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "LLM_UNAVAILABLE", decode[errorResponse](t, rec).Code)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw       string
		useSearch bool
		want      chat.Mode
	}{
		{"", false, chat.ModeAuto},
		{"", true, chat.ModeResearch},
		{"direct", true, chat.ModeDirect},
		{"research", false, chat.ModeResearch},
	}
	for _, tt := range tests {
		got, err := parseMode(tt.raw, tt.useSearch)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestDeleteConversation(t *testing.T) {
	f := newAPIFixture(t, "Hello!")
	rec := f.do(t, http.MethodPost, "/api/v1/chat", "1", ChatRequest{Message: "hi there", Mode: "direct"})
	require.Equal(t, http.StatusOK, rec.Code)
	target := fmt.Sprintf("/api/v1/conversations/%d", decode[chat.Response](t, rec).ConversationID)

	rec = f.do(t, http.MethodDelete, target, "2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, target, "1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, target+"/messages", "1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]Conversation](t, rec)["conversations"])
}

func TestMemoryLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	professional := f.categoryID(t, "Professional")

	rec := f.do(t, http.MethodPost, "/api/v1/memories", "1", CreateMemoryRequest{
		CategoryID: professional,
		Title:      "Job",
		Content:    "User is a teacher",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[Memory](t, rec)
	assert.Equal(t, "Professional", created.CategoryName)
	assert.Equal(t, float32(memory.ManualConfidence), created.ConfidenceScore)
	assert.False(t, created.IsVerified)
	assert.Equal(t, "manual", created.SourceType)

	rec = f.do(t, http.MethodPost, "/api/v1/memories", "1", CreateMemoryRequest{CategoryID: professional, Content: "User is a teacher"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	base := fmt.Sprintf("/api/v1/memories/%d", created.ID)
	rec = f.do(t, http.MethodPost, base+"/verify", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float32(memory.VerifiedConfidence), decode[Memory](t, rec).ConfidenceScore)

	rec = f.do(t, http.MethodPost, base+"/unverify", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unverified := decode[Memory](t, rec)
	assert.False(t, unverified.IsVerified)
	assert.Equal(t, float32(memory.UnverifiedConfidence), unverified.ConfidenceScore)

	content := "User teaches physics"
	rec = f.do(t, http.MethodPut, base, "1", UpdateMemoryRequest{Content: &content})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, decode[Memory](t, rec).Content)

	// Other owners can neither change nor remove it.
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		rec = f.do(t, method, base, "2", UpdateMemoryRequest{Content: &content})
		assert.Equal(t, http.StatusForbidden, rec.Code, method)
	}
	rec = f.do(t, http.MethodPost, base+"/verify", "2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, base+"/provenance", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	provenance := decode[map[string][]MemoryProvenance](t, rec)["provenance"]
	require.Len(t, provenance, 1)
	assert.Equal(t, "manual", provenance[0].SourceType)
	assert.Nil(t, provenance[0].ConversationID)
	rec = f.do(t, http.MethodGet, base+"/provenance", "2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/archive", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[Memory](t, rec).IsActive)

	rec = f.do(t, http.MethodGet, "/api/v1/memories", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[ListMemoriesResponse](t, rec).Total)

	rec = f.do(t, http.MethodDelete, base, "1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, base, "1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/memories/abc", "1", UpdateMemoryRequest{Content: &content})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMemories(t *testing.T) {
	f := newAPIFixture(t)
	professional := f.categoryID(t, "Professional")
	goals := f.categoryID(t, "Goals & Aspirations")

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/memories", "1", CreateMemoryRequest{CategoryID: professional, Content: fmt.Sprintf("work fact %d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/memories", "1", CreateMemoryRequest{CategoryID: goals, Content: "Run a marathon"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/memories", "2", CreateMemoryRequest{CategoryID: goals, Content: "Someone else's goal"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/memories?page=1&per_page=3", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[ListMemoriesResponse](t, rec)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.Pages)
	assert.Len(t, page.Memories, 3)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/memories?category_id=%d", goals), "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[ListMemoriesResponse](t, rec)
	require.Len(t, page.Memories, 1)
	assert.Equal(t, "Run a marathon", page.Memories[0].Content)
	assert.Equal(t, "Goals & Aspirations", page.Memories[0].CategoryName)

	rec = f.do(t, http.MethodPost, "/api/v1/memories", "1", CreateMemoryRequest{CategoryID: 9999, Content: "orphan"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/memories", "1", CreateMemoryRequest{CategoryID: goals})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMemoryCategories(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/memories/categories", "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	categories := decode[[]MemoryCategory](t, rec)
	assert.Len(t, categories, 10)
	assert.Equal(t, "Goals & Aspirations", categories[0].Name)
}

func TestGetConversationSummary(t *testing.T) {
	f := newAPIFixture(t, "Hello!")
	rec := f.do(t, http.MethodPost, "/api/v1/chat", "1", ChatRequest{Message: "hi there", Mode: "direct"})
	require.Equal(t, http.StatusOK, rec.Code)
	conversationID := decode[chat.Response](t, rec).ConversationID
	target := fmt.Sprintf("/api/v1/conversations/%d/summary", conversationID)

	rec = f.do(t, http.MethodGet, target, "1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := summary.NewSummarizer(f.store, f.llm, ai.RetryPolicy{MaxAttempts: 1}).Ensure(context.Background(), conversationID)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, target, "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[ConversationSummary](t, rec)
	assert.Equal(t, int32(1), sum.Version)
	assert.Equal(t, []string{}, sum.KeyTopics)

	rec = f.do(t, http.MethodGet, target, "2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMetricsOverview(t *testing.T) {
	f := newAPIFixture(t)
	f.service.Metrics.Record(observability.StageRetrieval, 0, nil)
	f.service.Metrics.Record(observability.StageChat, 0, fmt.Errorf("boom"))

	rec := f.do(t, http.MethodGet, "/api/v1/system/metrics/overview", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[MetricsOverviewResponse](t, rec)
	assert.Equal(t, int64(2), resp.TotalRequests)
	assert.Equal(t, int64(1), resp.ErrorCount)
	assert.InDelta(t, 50.0, resp.SuccessRate, 0.001)
	require.Len(t, resp.Stages, 2)
	assert.Equal(t, observability.StageChat, resp.Stages[0].Stage)
}
