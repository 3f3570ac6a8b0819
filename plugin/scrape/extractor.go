// Package scrape resolves search results to the best available page text.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai/timeout"
	"github.com/hrygo/calliope/plugin/search"
)

const (
	// maxBodyBytes caps how much of a page is read.
	maxBodyBytes = 2 << 20

	userAgent = "Mozilla/5.0 (compatible; calliope/1.0)"
)

// Config configures an Extractor.
type Config struct {
	Workers          int           // concurrent fetch workers (default: 4)
	FetchTimeout     time.Duration // per-URL deadline (default: 10s)
	DelayMin         time.Duration // politeness delay lower bound (default: 500ms)
	DelayMax         time.Duration // politeness delay upper bound (default: 1500ms)
	MinContentLength int           // extracted text must be longer than this (default: 300)
}

// DefaultConfig returns the default extractor configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		FetchTimeout:     timeout.FetchTimeout,
		DelayMin:         500 * time.Millisecond,
		DelayMax:         1500 * time.Millisecond,
		MinContentLength: 300,
	}
}

// NewConfigFromProfile derives extractor settings from the profile.
func NewConfigFromProfile(p *profile.Profile) Config {
	return Config{
		Workers:          p.ScrapeWorkers,
		FetchTimeout:     p.FetchTimeout,
		DelayMin:         p.PoliteDelayMin,
		DelayMax:         p.PoliteDelayMax,
		MinContentLength: p.MinContentLength,
	}
}

// Extractor fetches each unique result URL and replaces the snippet with
// the page's main text when the page yields enough of it.
type Extractor struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewExtractor creates an Extractor. Zero-valued Workers, FetchTimeout and
// MinContentLength take defaults; zero delays disable the politeness delay.
func NewExtractor(cfg Config, client *http.Client) *Extractor {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = defaults.MinContentLength
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Extractor{
		cfg:      cfg,
		client:   client,
		logger:   slog.Default(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Extract dedupes results by URL and resolves each to scraped text, the
// original snippet, or nothing. Output keeps first-occurrence order.
func (e *Extractor) Extract(ctx context.Context, results []search.Result) []search.Result {
	unique := Dedupe(results)
	if len(unique) == 0 {
		return []search.Result{}
	}

	resolved := make([]*search.Result, len(unique))
	jobs := make(chan int)

	var g errgroup.Group
	workers := min(e.cfg.Workers, len(unique))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			first := true
			for i := range jobs {
				if !first {
					if err := e.politeDelay(ctx); err != nil {
						continue
					}
				}
				first = false
				resolved[i] = e.resolve(ctx, unique[i])
			}
			return nil
		})
	}

dispatch:
	for i := range unique {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	_ = g.Wait()

	out := make([]search.Result, 0, len(unique))
	for _, r := range resolved {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Dedupe drops results with an empty or already seen URL. The first
// occurrence wins regardless of provider.
func Dedupe(results []search.Result) []search.Result {
	seen := make(map[string]bool, len(results))
	unique := make([]search.Result, 0, len(results))
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		unique = append(unique, r)
	}
	return unique
}

// resolve applies the acceptance rule: scraped text longer than the
// threshold, else the snippet, else nil.
func (e *Extractor) resolve(ctx context.Context, r search.Result) *search.Result {
	text, err := e.fetch(ctx, r.URL)
	if err != nil {
		e.logger.Warn("content extraction failed, using snippet",
			"url", r.URL,
			"error", err)
	}

	switch {
	case err == nil && utf8.RuneCountInString(text) > e.cfg.MinContentLength:
		r.Text = text
	case strings.TrimSpace(r.Text) != "":
	default:
		return nil
	}
	return &r
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("unsupported url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	if err := e.hostLimiter(u.Host).Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return "", fmt.Errorf("unsupported content type %q", mediaType)
		}
	}

	text, err := ExtractText(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	return text, nil
}

// hostLimiter returns the limiter spacing requests to one host by at least DelayMin.
func (e *Extractor) hostLimiter(host string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()

	if l, ok := e.limiters[host]; ok {
		return l
	}
	limit := rate.Inf
	if e.cfg.DelayMin > 0 {
		limit = rate.Every(e.cfg.DelayMin)
	}
	l := rate.NewLimiter(limit, 1)
	e.limiters[host] = l
	return l
}

// politeDelay sleeps for a uniformly random duration in [DelayMin, DelayMax].
func (e *Extractor) politeDelay(ctx context.Context) error {
	d := e.cfg.DelayMin
	if spread := e.cfg.DelayMax - e.cfg.DelayMin; spread > 0 {
		d += rand.N(spread + 1)
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
