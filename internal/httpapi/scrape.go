package httpapi

import (
	"net/http"
	"time"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/metrics"
)

type scrapeRequest struct {
	URL             string  `json:"url" validate:"required,url"`
	UsePlaywright   *bool   `json:"use_playwright"`
	RenderPolicy    *string `json:"render_policy" validate:"omitempty,oneof=auto always never"`
	IncludeLinks    bool    `json:"include_links"`
	IncludeRawHTML  bool    `json:"include_raw_html"`
	RespectRobots   bool    `json:"respect_robots"`
	TimeoutMs       int     `json:"timeout_ms"`
	CacheTTLSeconds *int    `json:"cache_ttl_seconds"`
	ForceRefresh    bool    `json:"force_refresh"`
}

type pageResponse struct {
	URL           string   `json:"url"`
	CanonicalURL  string   `json:"canonical_url"`
	StatusCode    int      `json:"status_code"`
	Title         *string  `json:"title,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Markdown      *string  `json:"markdown,omitempty"`
	RawHTML       *string  `json:"raw_html,omitempty"`
	Renderer      *string  `json:"renderer,omitempty"`
	LinksInternal []string `json:"links_internal,omitempty"`
	LinksExternal []string `json:"links_external,omitempty"`
	WordCount     *int     `json:"word_count,omitempty"`
	ReadTimeMin   *int     `json:"read_time_min,omitempty"`
	OGImage       *string  `json:"og_image,omitempty"`
	FaviconURL    *string  `json:"favicon_url,omitempty"`
	SiteName      *string  `json:"site_name,omitempty"`
	Language      *string  `json:"language,omitempty"`
	Author        *string  `json:"author,omitempty"`
	PublishedAt   *string  `json:"published_at,omitempty"`
	FetchedAt     string   `json:"fetched_at"`
	Cached        bool     `json:"cached"`
}

func newPageResponse(page domain.Page, cached bool, includeLinks, includeRawHTML bool) pageResponse {
	resp := pageResponse{
		URL:          page.URL,
		CanonicalURL: page.CanonicalURL,
		StatusCode:   page.StatusCode,
		Title:        page.Title,
		Description:  page.Description,
		Markdown:     page.Markdown,
		WordCount:    page.WordCount,
		ReadTimeMin:  page.ReadTimeMin,
		OGImage:      page.OGImage,
		FaviconURL:   page.FaviconURL,
		SiteName:     page.SiteName,
		Language:     page.Language,
		Author:       page.Author,
		PublishedAt:  page.PublishedAt,
		FetchedAt:    page.FetchedAt.Format(time.RFC3339),
		Cached:       cached,
	}
	if page.Renderer != nil {
		r := string(*page.Renderer)
		resp.Renderer = &r
	}
	if includeLinks {
		resp.LinksInternal = page.LinksInternal
		resp.LinksExternal = page.LinksExternal
	}
	if includeRawHTML {
		resp.RawHTML = page.RawHTML
	}
	return resp
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	key, _ := apiKeyFrom(r.Context())

	// render_policy, when present, is authoritative since it is the only
	// way a client reaches RenderNever; use_playwright remains a two-state
	// shorthand for auto/always.
	policy := domain.RenderAuto
	if req.UsePlaywright != nil && *req.UsePlaywright {
		policy = domain.RenderAlways
	}
	if req.RenderPolicy != nil {
		policy = domain.ParseRenderPolicy(*req.RenderPolicy)
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel func()
		ctx, cancel = contextWithTimeoutMs(ctx, req.TimeoutMs)
		defer cancel()
	}

	result, err := s.deps.Scraper.Scrape(ctx, coordinator.Request{
		URL:           req.URL,
		APIKeyID:      key.ID,
		RateLimit:     key.RateLimit,
		RespectRobots: req.RespectRobots,
		RenderPolicy:  policy,
		ForceRefresh:  req.ForceRefresh,
		TTLSeconds:    req.CacheTTLSeconds,
		GovernorCap:   s.deps.governorCap(),
	})
	if err != nil {
		errorCode := ""
		if apiErr, ok := apierr.As(err); ok {
			errorCode = string(apiErr.Code)
		}
		metrics.ObserveScrape(false, "", errorCode)
		writeError(w, r, err)
		return
	}

	renderer := "static"
	if result.Page.Renderer != nil {
		renderer = string(*result.Page.Renderer)
	}
	metrics.ObserveScrape(result.Cached, renderer, "")
	writeJSON(w, http.StatusOK, newPageResponse(result.Page, result.Cached, req.IncludeLinks, req.IncludeRawHTML))
}
