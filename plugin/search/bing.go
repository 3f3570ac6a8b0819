package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const bingEndpoint = "https://api.bing.microsoft.com/v7.0/search"

// BingProvider queries the Bing Web Search API.
type BingProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBingProvider creates a Bing provider.
func NewBingProvider(apiKey string) *BingProvider {
	return &BingProvider{
		apiKey:   apiKey,
		endpoint: bingEndpoint,
		client:   newHTTPClient(),
	}
}

func (p *BingProvider) Name() string { return ProviderBing }

func (p *BingProvider) IsAvailable() bool { return p.apiKey != "" }

func (p *BingProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if !p.IsAvailable() {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(k))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	var payload struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				Snippet string `json:"snippet"`
				URL     string `json:"url"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := doJSON(p.client, req, &payload); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(payload.WebPages.Value))
	for _, item := range payload.WebPages.Value {
		results = append(results, Result{
			Title:    item.Name,
			Text:     item.Snippet,
			URL:      item.URL,
			Provider: ProviderBing,
		})
	}
	return limit(results, k), nil
}
