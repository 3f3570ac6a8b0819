// Package search fans a query out to interchangeable web search backends.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider names.
const (
	ProviderTavily     = "tavily"
	ProviderBing       = "bing"
	ProviderGoogle     = "google"
	ProviderDuckDuckGo = "duckduckgo"
)

// DefaultResultCount is the number of results requested per provider.
const DefaultResultCount = 5

// ErrNotConfigured is returned by Search when a provider lacks credentials.
var ErrNotConfigured = errors.New("search provider not configured")

// Result is a single search hit. Text holds the snippet until the
// scraper replaces it with extracted page content.
type Result struct {
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	URL      string   `json:"url"`
	Provider string   `json:"provider"`
	Score    *float64 `json:"score,omitempty"`
}

// Provider is one external search backend.
type Provider interface {
	// Name returns the provider id stamped on each result.
	Name() string

	// IsAvailable reports whether the provider is configured. It never fails.
	IsAvailable() bool

	// Search returns up to k results for query.
	Search(ctx context.Context, query string, k int) ([]Result, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// doJSON executes req and decodes a JSON body into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
