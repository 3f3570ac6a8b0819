package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyProvider queries the Tavily search API.
type TavilyProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewTavilyProvider creates a Tavily provider.
func NewTavilyProvider(apiKey string) *TavilyProvider {
	return &TavilyProvider{
		apiKey:   apiKey,
		endpoint: tavilyEndpoint,
		client:   newHTTPClient(),
	}
}

func (p *TavilyProvider) Name() string { return ProviderTavily }

func (p *TavilyProvider) IsAvailable() bool { return p.apiKey != "" }

func (p *TavilyProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if !p.IsAvailable() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{
		"api_key":     p.apiKey,
		"query":       query,
		"max_results": k,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var payload struct {
		Results []struct {
			Title   string   `json:"title"`
			Content string   `json:"content"`
			URL     string   `json:"url"`
			Score   *float64 `json:"score"`
		} `json:"results"`
	}
	if err := doJSON(p.client, req, &payload); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(payload.Results))
	for _, item := range payload.Results {
		results = append(results, Result{
			Title:    item.Title,
			Text:     item.Content,
			URL:      item.URL,
			Provider: ProviderTavily,
			Score:    item.Score,
		})
	}
	return limit(results, k), nil
}

func limit(results []Result, k int) []Result {
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}
