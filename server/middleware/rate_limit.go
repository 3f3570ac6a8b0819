package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	aierrors "github.com/hrygo/calliope/server/internal/errors"
)

// UserIDHeader carries the owner identity resolved by the auth collaborator.
const UserIDHeader = "X-User-ID"

const (
	defaultRate  = rate.Limit(10)
	defaultBurst = 20
	// Limiters unused for this long are dropped.
	limiterIdleTTL = 30 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-key rate limiting.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*limiterEntry
	rate   rate.Limit
	burst  int
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter allowing r events per second per
// key with the given burst. Zero values use 10/s with a burst of 20.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	if r <= 0 {
		r = defaultRate
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &RateLimiter{
		limits: make(map[string]*limiterEntry),
		rate:   r,
		burst:  burst,
		now:    time.Now,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if e, ok := rl.limits[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	rl.evictIdle(now)
	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limits[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// evictIdle must be called with mu held.
func (rl *RateLimiter) evictIdle(now time.Time) {
	for key, e := range rl.limits {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(rl.limits, key)
		}
	}
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Size returns the number of tracked keys.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limits)
}

// Middleware rejects requests over the limit with 429. Requests are keyed
// by the owner header, falling back to the client IP.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(UserIDHeader)
			if key == "" {
				key = "ip:" + c.RealIP()
			}
			if !rl.Allow(key) {
				code := aierrors.ErrCodeRateLimitExceeded
				return c.JSON(code.HTTPStatus(), map[string]string{
					"code":    string(code),
					"message": "too many requests",
				})
			}
			return next(c)
		}
	}
}

