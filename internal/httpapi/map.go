package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/sitecrawler"
)

type mapRequest struct {
	URL             string   `json:"url" validate:"required,url"`
	MaxDepth        int      `json:"max_depth"`
	MaxPages        int      `json:"max_pages"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	RespectRobots   bool     `json:"respect_robots"`
	UsePlaywright   bool     `json:"use_playwright"`
	Concurrency     int      `json:"concurrency"`
	Force           bool     `json:"force"`
	IdempotencyKey  *string  `json:"idempotency_key"`
}

type jobAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) submitMap(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	key, _ := apiKeyFrom(r.Context())

	render := string(domain.RenderAuto)
	if req.UsePlaywright {
		render = string(domain.RenderAlways)
	}

	params := sitecrawler.JobParams{
		SeedURL:       req.URL,
		MaxDepth:      req.MaxDepth,
		MaxPages:      req.MaxPages,
		Include:       req.IncludePatterns,
		Exclude:       req.ExcludePatterns,
		RespectRobots: req.RespectRobots,
		Render:        render,
		Concurrency:   req.Concurrency,
		Force:         req.Force,
		RateLimit:     key.RateLimit,
		GovernorCap:   s.deps.governorCap(),
	}
	blob, err := json.Marshal(params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.deps.Jobs.Submit(r.Context(), key.ID, domain.JobTypeMap, blob, req.IdempotencyKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAcceptedResponse{JobID: job.ID, Status: string(job.Status)})
}
