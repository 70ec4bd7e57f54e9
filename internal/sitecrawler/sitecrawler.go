// Package sitecrawler implements spec §4.10's BFS site map: starting from
// a seed URL, it scrapes every unvisited, same-registrable-domain page up
// to max_depth/max_pages via the scrape coordinator (C8), recording each
// discovery as a job_pages row.
//
// Grounded on the teacher's internal/dispatcher/dispatcher.go worker
// fan-out (a fixed pool draining a shared queue under a WaitGroup),
// generalized from dispatcher's static job queue into a frontier that
// grows as pages are visited, and internal/worker/worker.go's per-item
// counters/error-swallowing style ("individual page errors ... do not
// fail the job").
package sitecrawler

import (
	"context"
	"regexp"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/urlsafe"
)

// Scraper is the subset of *coordinator.Coordinator the crawler needs.
type Scraper interface {
	Scrape(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
}

// Recorder links a discovered page to its crawling job, per the job_pages
// table.
type Recorder interface {
	Record(ctx context.Context, link domain.JobPage) error
}

// EventRecorder appends the per-page failures the spec says must be
// logged as events without failing the job.
type EventRecorder interface {
	Append(ctx context.Context, ev domain.Event) error
}

// Params controls a single crawl, per spec §4.10.
type Params struct {
	SeedURL       string
	MaxDepth      int
	MaxPages      int
	Include       []string
	Exclude       []string
	RespectRobots bool
	RenderPolicy  domain.RenderPolicy
	Concurrency   int
	Force         bool
	APIKeyID      string
	RateLimit     int
	GovernorCap   int
}

func (p Params) maxDepth() int {
	switch {
	case p.MaxDepth < 0:
		return 0
	case p.MaxDepth > 5:
		return 5
	default:
		return p.MaxDepth
	}
}

func (p Params) maxPages() int {
	switch {
	case p.MaxPages <= 0:
		return 1
	case p.MaxPages > 1000:
		return 1000
	default:
		return p.MaxPages
	}
}

func (p Params) concurrency() int {
	switch {
	case p.Concurrency <= 0:
		return 5
	case p.Concurrency > 10:
		return 10
	default:
		return p.Concurrency
	}
}

// DiscoveredPage is one row of the crawl's result list.
type DiscoveredPage struct {
	URL    string `json:"url"`
	PageID string `json:"page_id"`
	Depth  int    `json:"depth"`
	Status int    `json:"status_code"`
}

// Result is the crawl's final output, written as the job's result blob.
type Result struct {
	Pages []DiscoveredPage `json:"pages"`
}

// Crawler runs one BFS site crawl at a time on behalf of the job engine.
type Crawler struct {
	Scraper     Scraper
	Recorder    Recorder
	Events      EventRecorder
	IDGenerator func() string
}

type frontierItem struct {
	url   string
	depth int
}

type crawlState struct {
	mu       sync.Mutex
	visited  map[string]struct{}
	result   Result
	maxPages int
	seedErr  error
}

// Run executes spec §4.10's BFS algorithm for a single job.
func (c *Crawler) Run(ctx context.Context, jobID string, params Params, report func(discovered int, total *int)) (Result, error) {
	includeRe, err := compilePatterns(params.Include)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeValidationError, "invalid include pattern", err)
	}
	excludeRe, err := compilePatterns(params.Exclude)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeValidationError, "invalid exclude pattern", err)
	}

	seed, err := urlsafe.Normalize(params.SeedURL, "")
	if err != nil {
		return Result{}, err
	}
	seedDomain := registrableDomain(seed.Host)
	maxDepth := params.maxDepth()

	state := &crawlState{
		visited:  map[string]struct{}{seed.URLHash: {}},
		maxPages: params.maxPages(),
	}

	f := newFrontier()
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			f.close()
		case <-stop:
		}
	}()
	defer close(stop)

	f.push(frontierItem{url: seed.Canonical, depth: 0})

	var wg sync.WaitGroup
	for i := 0; i < params.concurrency(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := f.pop(ctx)
				if !ok {
					return
				}
				c.visit(ctx, jobID, params, item, seedDomain, includeRe, excludeRe, maxDepth, state, f, report)
				f.done()
			}
		}()
	}
	wg.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.result.Pages) == 0 && state.seedErr != nil {
		return Result{}, state.seedErr
	}
	total := len(state.result.Pages)
	report(total, &total)
	return state.result, nil
}

func (c *Crawler) visit(
	ctx context.Context,
	jobID string,
	params Params,
	item frontierItem,
	seedDomain string,
	include, exclude []*regexp.Regexp,
	maxDepth int,
	state *crawlState,
	f *frontier,
	report func(int, *int),
) {
	state.mu.Lock()
	atBound := len(state.result.Pages) >= state.maxPages
	state.mu.Unlock()
	if atBound {
		return
	}

	res, err := c.Scraper.Scrape(ctx, coordinator.Request{
		URL:           item.url,
		APIKeyID:      params.APIKeyID,
		RateLimit:     params.RateLimit,
		RespectRobots: params.RespectRobots,
		RenderPolicy:  params.RenderPolicy,
		ForceRefresh:  params.Force,
		GovernorCap:   params.GovernorCap,
	})
	if err != nil {
		if item.depth == 0 {
			state.mu.Lock()
			state.seedErr = err
			state.mu.Unlock()
			return
		}
		c.logPageError(ctx, jobID, item.url, err)
		return
	}

	state.mu.Lock()
	if len(state.result.Pages) >= state.maxPages {
		state.mu.Unlock()
		return
	}
	state.result.Pages = append(state.result.Pages, DiscoveredPage{
		URL:    res.Page.URL,
		PageID: res.Page.ID,
		Depth:  item.depth,
		Status: res.Page.StatusCode,
	})
	discovered := len(state.result.Pages)
	state.mu.Unlock()

	if err := c.Recorder.Record(ctx, domain.JobPage{JobID: jobID, PageID: res.Page.ID, Depth: item.depth}); err != nil {
		c.logPageError(ctx, jobID, item.url, err)
	}

	report(discovered, nil)

	if item.depth >= maxDepth {
		return
	}
	for _, link := range res.Page.LinksInternal {
		c.enqueueChild(link, item.depth+1, seedDomain, include, exclude, state, f)
	}
}

func (c *Crawler) enqueueChild(
	link string,
	depth int,
	seedDomain string,
	include, exclude []*regexp.Regexp,
	state *crawlState,
	f *frontier,
) {
	norm, err := urlsafe.Normalize(link, "")
	if err != nil {
		return
	}
	if registrableDomain(norm.Host) != seedDomain {
		return
	}
	if len(include) > 0 && !matchesAny(include, norm.Canonical) {
		return
	}
	if matchesAny(exclude, norm.Canonical) {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.result.Pages) >= state.maxPages {
		return
	}
	if _, seen := state.visited[norm.URLHash]; seen {
		return
	}
	state.visited[norm.URLHash] = struct{}{}
	f.push(frontierItem{url: norm.Canonical, depth: depth})
}

func (c *Crawler) logPageError(ctx context.Context, jobID, url string, err error) {
	if c.Events == nil {
		return
	}
	job := jobID
	_ = c.Events.Append(ctx, domain.Event{
		ID:        c.nextEventID(),
		JobID:     &job,
		EventType: "page.failed",
		Level:     domain.LevelError,
		Message:   err.Error(),
		Metadata:  map[string]any{"url": url},
		CreatedAt: time.Now().UTC(),
	})
}

func (c *Crawler) nextEventID() string {
	if c.IDGenerator != nil {
		return c.IDGenerator()
	}
	return time.Now().UTC().Format("20060102T150405.000000000")
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func registrableDomain(host string) string {
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
