// Package coordinator sequences a single scrape per spec §4.8: rate-limit
// admission, URL normalization/SSRF check, cache probe, robots check,
// domain-slot acquisition, adaptive fetch, extraction, and persistence —
// single-flighted per url_hash so concurrent requests for the same URL
// share one in-flight fetch+extract.
//
// Grounded on the same golang.org/x/sync/singleflight coalescing that
// internal/robotscache uses, generalized from "one robots
// fetch per host" to "one fetch+extract per url_hash", wired to C1-C7.
package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/extractor"
	"github.com/webextract/service/internal/fetcher"
	"github.com/webextract/service/internal/pagecache"
	"github.com/webextract/service/internal/ratelimit"
	"github.com/webextract/service/internal/rendertrigger"
	"github.com/webextract/service/internal/robotscache"
	"github.com/webextract/service/internal/urlsafe"
)

// Governor is the subset of domaingovernor.Governor the coordinator needs.
type Governor interface {
	Acquire(ctx context.Context, host string, capacity int) (func(), error)
	ReportResult(host string, success bool)
}

// Request describes a single scrape, per spec §4.8.
type Request struct {
	URL           string
	APIKeyID      string
	RateLimit     int
	RespectRobots bool
	RenderPolicy  domain.RenderPolicy
	ForceRefresh  bool
	TTLSeconds    *int
	GovernorCap   int
}

// Result is a scrape's outcome plus cache provenance.
type Result struct {
	Page       domain.Page
	Cached     bool
	CacheLayer string
}

// Coordinator wires C1-C7 into the sequenced scrape operation.
type Coordinator struct {
	RateLimiter ratelimit.Limiter
	Robots      *robotscache.Cache
	Governor    Governor
	Static      fetcher.Fetcher
	Headless    fetcher.Fetcher
	Cache       *pagecache.Cache
	Resolver    urlsafe.Resolver
	UserAgent   string
	IDGenerator func() string

	group singleflight.Group
}

// Scrape executes spec §4.8's sequence for a single URL.
func (c *Coordinator) Scrape(ctx context.Context, req Request) (Result, error) {
	decision, err := c.RateLimiter.Allow(ctx, req.APIKeyID, req.RateLimit)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeInternalError, "rate limiter error", err)
	}
	if !decision.Allowed {
		return Result{}, apierr.New(apierr.CodeRateLimited, "rate limit exceeded").
			WithDetails(map[string]any{"retry_after_seconds": decision.RetryAfter.Seconds()})
	}

	normalized, err := urlsafe.Normalize(req.URL, "")
	if err != nil {
		return Result{}, err
	}
	if err := urlsafe.CheckSSRF(ctx, c.Resolver, normalized.Host); err != nil {
		return Result{}, err
	}

	if page, hit, err := c.Cache.Probe(ctx, normalized.URLHash, req.TTLSeconds, req.ForceRefresh); err != nil {
		return Result{}, err
	} else if hit {
		return Result{Page: page, Cached: true, CacheLayer: "page"}, nil
	}

	out, err, _ := c.group.Do(normalized.URLHash, func() (any, error) {
		return c.fetchAndExtract(ctx, req, normalized)
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

func (c *Coordinator) fetchAndExtract(ctx context.Context, req Request, normalized urlsafe.Normalized) (Result, error) {
	if req.RespectRobots {
		scheme, host, err := robotscache.HostOf(normalized.Canonical)
		if err == nil {
			allowed, err := c.Robots.Allowed(ctx, scheme, host, pathOf(normalized.Canonical), c.UserAgent)
			if err != nil {
				return Result{}, err
			}
			if !allowed {
				return Result{}, apierr.New(apierr.CodeRobotsBlocked, "robots.txt disallows this path")
			}
		}
	}

	release, err := c.Governor.Acquire(ctx, normalized.Host, req.GovernorCap)
	if err != nil {
		return Result{}, err
	}
	defer release()

	resp, err := c.fetch(ctx, req, normalized)
	c.Governor.ReportResult(normalized.Host, err == nil)
	if err != nil {
		return Result{}, err
	}

	extracted, err := extractor.Extract(string(resp.Body), resp.FinalURL)
	if err != nil {
		return Result{}, err
	}

	page := buildPage(c.nextID(), normalized, resp, extracted)
	if err := c.Cache.Store(ctx, page); err != nil {
		return Result{}, err
	}
	return Result{Page: page, Cached: false}, nil
}

func (c *Coordinator) fetch(ctx context.Context, req Request, normalized urlsafe.Normalized) (fetcher.Response, error) {
	policy := req.RenderPolicy
	if policy == "" {
		policy = domain.RenderAuto
	}

	if policy == domain.RenderAlways && c.Headless != nil {
		return c.Headless.Fetch(ctx, fetcher.Request{URL: normalized.Canonical, Policy: policy})
	}

	resp, err := c.Static.Fetch(ctx, fetcher.Request{URL: normalized.Canonical, Policy: policy})
	if err != nil {
		return fetcher.Response{}, err
	}
	resp.RendererUsed = domain.RendererStatic

	if policy == domain.RenderNever || c.Headless == nil {
		return resp, nil
	}
	if rendertrigger.ShouldRender(resp.Body) {
		return c.Headless.Fetch(ctx, fetcher.Request{URL: normalized.Canonical, Policy: policy})
	}
	return resp, nil
}

func (c *Coordinator) nextID() string {
	if c.IDGenerator != nil {
		return c.IDGenerator()
	}
	return normalizedTimeID()
}

func normalizedTimeID() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}

func pathOf(canonical string) string {
	idx := -1
	slashCount := 0
	for i, r := range canonical {
		if r == '/' {
			slashCount++
			if slashCount == 3 {
				idx = i
				break
			}
		}
	}
	if idx == -1 {
		return "/"
	}
	return canonical[idx:]
}

func buildPage(id string, normalized urlsafe.Normalized, resp fetcher.Response, extracted extractor.Result) domain.Page {
	renderer := resp.RendererUsed
	return domain.Page{
		ID:            id,
		URL:           normalized.Canonical,
		CanonicalURL:  extracted.CanonicalURL,
		URLHash:       normalized.URLHash,
		StatusCode:    resp.StatusCode,
		Title:         strPtr(extracted.Title),
		Description:   strPtr(extracted.Description),
		Markdown:      strPtr(extracted.Markdown),
		RawHTML:       strPtr(string(resp.Body)),
		Renderer:      &renderer,
		LinksInternal: extracted.LinksInternal,
		LinksExternal: extracted.LinksExternal,
		WordCount:     intPtr(extracted.WordCount),
		ReadTimeMin:   intPtr(extracted.ReadTimeMin),
		FetchDuration: resp.Duration,
		OGImage:       strPtr(extracted.OGImage),
		FaviconURL:    strPtr(extracted.FaviconURL),
		SiteName:      strPtr(extracted.SiteName),
		Language:      strPtr(extracted.Language),
		Author:        strPtr(extracted.Author),
		PublishedAt:   strPtr(extracted.PublishedAt),
		FetchedAt:     time.Now().UTC(),
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtr(n int) *int { return &n }
