package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/webextract/service/internal/apikeys"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/metrics"
	"github.com/webextract/service/internal/search"
)

var validate = validator.New()

// Scraper is the subset of *coordinator.Coordinator the handlers need.
type Scraper interface {
	Scrape(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
}

// JobSubmitter is the subset of *jobengine.Engine the handlers need.
type JobSubmitter interface {
	Submit(ctx context.Context, apiKeyID string, jobType domain.JobType, params []byte, idempotencyKey *string) (domain.Job, error)
	Status(ctx context.Context, id string) (domain.Job, error)
	Cancel(ctx context.Context, id string) error
}

// Searcher is the subset of *search.Service the handlers need.
type Searcher interface {
	Search(ctx context.Context, params search.Params) ([]search.Result, error)
}

// Deps wires the collaborators NewRouter needs into handler methods.
type Deps struct {
	Scraper         Scraper
	Jobs            JobSubmitter
	ApiKeys         *apikeys.Service
	Search          Searcher
	AdminSecret     string
	DefaultGovernor int
	RequestTimeout  time.Duration
	Logger          *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

func (d Deps) requestTimeout() time.Duration {
	if d.RequestTimeout <= 0 {
		return 60 * time.Second
	}
	return d.RequestTimeout
}

func (d Deps) governorCap() int {
	if d.DefaultGovernor <= 0 {
		return 5
	}
	return d.DefaultGovernor
}

// Server holds the router built by NewRouter.
type Server struct {
	router chi.Router
	deps   Deps
}

// NewRouter builds the chi router for spec §6's full HTTP surface,
// grounded on the teacher's internal/api/server.go.
func NewRouter(deps Deps) *Server {
	s := &Server{deps: deps}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(deps.logger()))
	r.Use(recoverMiddleware(deps.logger()))
	r.Use(timeoutMiddleware(deps.requestTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware(deps.ApiKeys, string(domain.ScopeScrape)))
			r.Post("/scrape", s.scrape)
		})
		r.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware(deps.ApiKeys, string(domain.ScopeMap)))
			r.Post("/map", s.submitMap)
		})
		r.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware(deps.ApiKeys, string(domain.ScopeSearch)))
			r.Post("/search", s.search)
		})
		r.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware(deps.ApiKeys, string(domain.ScopeAgent)))
			r.Post("/agent/extract", s.submitAgentExtract)
		})
		r.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware(deps.ApiKeys))
			r.Get("/jobs/{job_id}", s.jobStatus)
			r.Get("/jobs/{job_id}/results", s.jobResults)
			r.Post("/jobs/{job_id}/cancel", s.cancelJob)
		})
		r.Route("/admin/keys", func(r chi.Router) {
			r.Use(adminKeyMiddleware(deps.AdminSecret))
			r.Post("/", s.createApiKey)
			r.Get("/", s.listApiKeys)
			r.Get("/{key_id}", s.getApiKey)
			r.Patch("/{key_id}", s.patchApiKey)
			r.Delete("/{key_id}", s.revokeApiKey)
		})
	})

	s.router = r
	return s
}

// Handler returns the built router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
