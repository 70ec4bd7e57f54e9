package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
)

type stubProvider struct {
	results []Result
	err     error
}

func (p *stubProvider) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	return p.results, p.err
}

type stubScraper struct {
	calls []string
	err   error
}

func (s *stubScraper) Scrape(_ context.Context, req coordinator.Request) (coordinator.Result, error) {
	s.calls = append(s.calls, req.URL)
	if s.err != nil {
		return coordinator.Result{}, s.err
	}
	md := "# " + req.URL
	return coordinator.Result{Page: domain.Page{URL: req.URL, Markdown: &md}}, nil
}

func TestSearch_ReturnsProviderResultsWithoutScrapingByDefault(t *testing.T) {
	provider := &stubProvider{results: []Result{{URL: "https://a.example/"}, {URL: "https://b.example/"}}}
	scraper := &stubScraper{}
	svc := &Service{Provider: provider, Scraper: scraper}

	results, err := svc.Search(context.Background(), Params{Query: "go testing"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Empty(t, scraper.calls)
	assert.Nil(t, results[0].Markdown)
}

func TestSearch_ScrapesTopNResults(t *testing.T) {
	provider := &stubProvider{results: []Result{
		{URL: "https://a.example/"}, {URL: "https://b.example/"}, {URL: "https://c.example/"},
	}}
	scraper := &stubScraper{}
	svc := &Service{Provider: provider, Scraper: scraper}

	results, err := svc.Search(context.Background(), Params{Query: "go testing", ScrapeTopN: 2})
	require.NoError(t, err)
	assert.Len(t, scraper.calls, 2)
	require.NotNil(t, results[0].Markdown)
	require.NotNil(t, results[1].Markdown)
	assert.Nil(t, results[2].Markdown)
}

func TestSearch_ScrapeTopNClampedToResultCount(t *testing.T) {
	provider := &stubProvider{results: []Result{{URL: "https://a.example/"}}}
	scraper := &stubScraper{}
	svc := &Service{Provider: provider, Scraper: scraper}

	_, err := svc.Search(context.Background(), Params{Query: "go testing", ScrapeTopN: 10})
	require.NoError(t, err)
	assert.Len(t, scraper.calls, 1)
}

func TestSearch_ScrapeFailureDoesNotFailSearch(t *testing.T) {
	provider := &stubProvider{results: []Result{{URL: "https://a.example/"}}}
	scraper := &stubScraper{err: apierr.New(apierr.CodeFetchError, "boom")}
	svc := &Service{Provider: provider, Scraper: scraper}

	results, err := svc.Search(context.Background(), Params{Query: "go testing", ScrapeTopN: 1})
	require.NoError(t, err)
	assert.Nil(t, results[0].Markdown)
}

func TestSearch_ProviderErrorPropagates(t *testing.T) {
	provider := &stubProvider{err: apierr.New(apierr.CodeUpstreamHTTPError, "provider down")}
	svc := &Service{Provider: provider, Scraper: &stubScraper{}}

	_, err := svc.Search(context.Background(), Params{Query: "go testing"})
	require.Error(t, err)
}
