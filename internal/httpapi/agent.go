package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/agentextract"
	"github.com/webextract/service/internal/domain"
)

type agentExtractRequest struct {
	URL            string         `json:"url" validate:"required,url"`
	Prompt         string         `json:"prompt" validate:"required"`
	SchemaDef      map[string]any `json:"schema_definition"`
	UsePlaywright  bool           `json:"use_playwright"`
	RespectRobots  bool           `json:"respect_robots"`
	IdempotencyKey *string        `json:"idempotency_key"`
}

func (s *Server) submitAgentExtract(w http.ResponseWriter, r *http.Request) {
	var req agentExtractRequest
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

	params := agentextract.JobParams{
		URL:           req.URL,
		Prompt:        req.Prompt,
		Schema:        req.SchemaDef,
		RespectRobots: req.RespectRobots,
		Render:        render,
		RateLimit:     key.RateLimit,
		GovernorCap:   s.deps.governorCap(),
	}
	blob, err := json.Marshal(params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.deps.Jobs.Submit(r.Context(), key.ID, domain.JobTypeAgentExtract, blob, req.IdempotencyKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAcceptedResponse{JobID: job.ID, Status: string(job.Status)})
}
