// Package fetcher defines the adaptive-fetch contract (spec §4.5) shared
// by the static and headless implementations: a canonical URL and render
// policy in, a uniform response or typed error out.
package fetcher

import (
	"context"
	"net/http"
	"time"

	"github.com/webextract/service/internal/domain"
)

// Request describes one fetch attempt.
type Request struct {
	URL     string
	Headers http.Header
	Policy  domain.RenderPolicy
}

// Response is the uniform result of a fetch, regardless of which strategy
// produced it.
type Response struct {
	StatusCode   int
	FinalURL     string
	Headers      http.Header
	Body         []byte
	RendererUsed domain.Renderer
	Duration     time.Duration
}

// Fetcher performs one fetch attempt for a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// SSRFChecker re-validates a host against the blocked-range table; called
// before the initial request and again after every redirect hop.
type SSRFChecker func(ctx context.Context, host string) error
