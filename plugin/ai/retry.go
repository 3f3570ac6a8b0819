package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy retries a failed call with exponential backoff and gives up
// after MaxAttempts. Backoff doubles from InitialBackoff and is capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns 3 attempts backing off 1s then 2s, capped at 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
	}
}

// NewRetryPolicy builds a policy from config, falling back to defaults for unset fields.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		p.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxBackoff = cfg.MaxBackoff
	}
	return p
}

// Backoff returns the wait before the given retry (0-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	wait := p.InitialBackoff
	for i := 0; i < retry; i++ {
		wait *= 2
		if p.MaxBackoff > 0 && wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		return p.MaxBackoff
	}
	return wait
}

// Do executes fn until it succeeds, the attempts run out, or ctx is done.
// Context errors from fn are returned immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		waitTime := p.Backoff(attempt)
		slog.Debug("AI request failed, retrying",
			"attempt", attempt+1,
			"wait_time", waitTime,
			"error", err)
		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

type retryingLLM struct {
	next   LLMService
	policy RetryPolicy
}

// NewRetryingLLM wraps an LLMService so Chat calls follow the retry policy.
func NewRetryingLLM(next LLMService, policy RetryPolicy) LLMService {
	return &retryingLLM{next: next, policy: policy}
}

func (r *retryingLLM) Chat(ctx context.Context, messages []Message) (string, error) {
	var result string
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		content, err := r.next.Chat(ctx, messages)
		if err != nil {
			return err
		}
		result = content
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
