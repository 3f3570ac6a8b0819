package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const googleEndpoint = "https://www.googleapis.com/customsearch/v1"

// Custom Search returns at most 10 items per request.
const googleMaxResults = 10

// GoogleProvider queries the Google Custom Search JSON API.
type GoogleProvider struct {
	apiKey   string
	cseID    string
	endpoint string
	client   *http.Client
}

// NewGoogleProvider creates a Google Custom Search provider.
func NewGoogleProvider(apiKey, cseID string) *GoogleProvider {
	return &GoogleProvider{
		apiKey:   apiKey,
		cseID:    cseID,
		endpoint: googleEndpoint,
		client:   newHTTPClient(),
	}
}

func (p *GoogleProvider) Name() string { return ProviderGoogle }

func (p *GoogleProvider) IsAvailable() bool { return p.apiKey != "" && p.cseID != "" }

func (p *GoogleProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if !p.IsAvailable() {
		return nil, ErrNotConfigured
	}

	num := k
	if num <= 0 || num > googleMaxResults {
		num = googleMaxResults
	}
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("cx", p.cseID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Link    string `json:"link"`
		} `json:"items"`
	}
	if err := doJSON(p.client, req, &payload); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, Result{
			Title:    item.Title,
			Text:     item.Snippet,
			URL:      item.Link,
			Provider: ProviderGoogle,
		})
	}
	return limit(results, k), nil
}
