// Package search implements spec §6's POST /api/v1/search: a ranked-results
// query against an out-of-scope third-party search provider (spec §1 lists
// "the third-party search provider" as an external collaborator — only its
// interface is specified here), with optional synchronous top-N scraping
// of the results via the scrape coordinator.
package search

import (
	"context"

	"github.com/webextract/service/internal/coordinator"
)

// Result is one ranked search hit, optionally enriched with scraped content.
type Result struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Markdown *string `json:"markdown,omitempty"`
}

// Provider is the out-of-scope third-party search backend.
type Provider interface {
	Search(ctx context.Context, query string, numResults int) ([]Result, error)
}

// Scraper is the subset of *coordinator.Coordinator search needs for
// top-N enrichment.
type Scraper interface {
	Scrape(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
}

// Params controls a single search request, per spec §6's request body.
type Params struct {
	Query       string
	NumResults  int
	ScrapeTopN  int
	APIKeyID    string
	RateLimit   int
	GovernorCap int
}

func (p Params) numResults() int {
	if p.NumResults <= 0 {
		return 10
	}
	return p.NumResults
}

// Service orchestrates a provider query plus optional top-N scraping.
type Service struct {
	Provider Provider
	Scraper  Scraper
}

// Search runs the query and, when ScrapeTopN > 0, scrapes that many leading
// results synchronously via the coordinator — the spec's Open Question (b)
// resolves this to a synchronous path, never an async bulk-scrape job.
func (s *Service) Search(ctx context.Context, params Params) ([]Result, error) {
	results, err := s.Provider.Search(ctx, params.Query, params.numResults())
	if err != nil {
		return nil, err
	}

	topN := params.ScrapeTopN
	if topN > len(results) {
		topN = len(results)
	}

	for i := 0; i < topN; i++ {
		scraped, err := s.Scraper.Scrape(ctx, coordinator.Request{
			URL:         results[i].URL,
			APIKeyID:    params.APIKeyID,
			RateLimit:   params.RateLimit,
			GovernorCap: params.GovernorCap,
		})
		if err != nil || scraped.Page.Markdown == nil {
			continue
		}
		results[i].Markdown = scraped.Page.Markdown
	}
	return results, nil
}
