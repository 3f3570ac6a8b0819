package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLimitsPerUser(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(1, 2)
	e.Use(rl.Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if user != "" {
			req.Header.Set(UserIDHeader, user)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("1").Code)
	assert.Equal(t, http.StatusOK, do("1").Code)
	rec := do("1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	// Other users and anonymous clients have their own buckets.
	assert.Equal(t, http.StatusOK, do("2").Code)
	assert.Equal(t, http.StatusOK, do("").Code)
	assert.Equal(t, 3, rl.Size())
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Size())

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, rl.Allow("c"))
	assert.Equal(t, 1, rl.Size())
}
