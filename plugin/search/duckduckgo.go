package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

const userAgent = "Mozilla/5.0 (compatible; calliope/1.0)"

// DuckDuckGoProvider scrapes the keyless DuckDuckGo HTML endpoint.
type DuckDuckGoProvider struct {
	endpoint string
	client   *http.Client
}

// NewDuckDuckGoProvider creates a DuckDuckGo provider.
func NewDuckDuckGoProvider() *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		endpoint: duckDuckGoEndpoint,
		client:   newHTTPClient(),
	}
}

func (p *DuckDuckGoProvider) Name() string { return ProviderDuckDuckGo }

// IsAvailable is always true: the endpoint needs no credentials.
func (p *DuckDuckGoProvider) IsAvailable() bool { return true }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}
	return limit(parseDuckDuckGoResults(doc), k), nil
}

// parseDuckDuckGoResults collects result__a links and attaches the
// result__snippet that follows each one.
func parseDuckDuckGoResults(doc *html.Node) []Result {
	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				results = append(results, Result{
					Title:    strings.TrimSpace(nodeText(n)),
					URL:      resolveDuckDuckGoURL(attr(n, "href")),
					Provider: ProviderDuckDuckGo,
				})
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 {
					results[len(results)-1].Text = strings.TrimSpace(nodeText(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	filtered := results[:0]
	for _, r := range results {
		if r.URL != "" {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// resolveDuckDuckGoURL unwraps redirect links of the form //duckduckgo.com/l/?uddg=<target>.
func resolveDuckDuckGoURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
