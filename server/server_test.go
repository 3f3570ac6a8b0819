package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/server/middleware"
	teststore "github.com/hrygo/calliope/store/test"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	p := &profile.Profile{
		Mode:                 "dev",
		Addr:                 "127.0.0.1",
		Port:                 0,
		AILLMProvider:        "deepseek",
		AIEmbeddingProvider:  "none",
		ConsolidationWorkers: 1,
	}
	s, err := NewServer(ctx, p, st)
	require.NoError(t, err)
	return s
}

func TestServerWithoutAI(t *testing.T) {
	s := newTestServer(t)
	assert.Nil(t, s.consolidation)

	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"hello there","mode":"direct"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, "1")
	rec = httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "LLM_UNAVAILABLE")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/memories/categories", nil)
	req.Header.Set(middleware.UserIDHeader, "1")
	rec = httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerStartAndShutdown(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "Service ready.", string(body))

	s.Shutdown(ctx)
	_, err = http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	assert.Error(t, err)
}
