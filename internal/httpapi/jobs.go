package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/domain"
)

type jobResponse struct {
	JobID           string  `json:"job_id"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	PagesDiscovered int     `json:"pages_discovered"`
	PagesTotal      *int    `json:"pages_total,omitempty"`
	ErrorCode       *string `json:"error_code,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	CreatedAt       string  `json:"created_at"`
	StartedAt       *string `json:"started_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

func newJobResponse(job domain.Job) jobResponse {
	resp := jobResponse{
		JobID:           job.ID,
		Type:            string(job.Type),
		Status:          string(job.Status),
		PagesDiscovered: job.PagesDiscovered,
		PagesTotal:      job.PagesTotal,
		ErrorCode:       job.ErrorCode,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		s := job.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if job.CompletedAt != nil {
		c := job.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &c
	}
	return resp
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ownsJob(r, job) {
		writeError(w, r, apierr.New(apierr.CodeForbidden, "job belongs to a different api key"))
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// jobResults returns the job's ResultBlob as-is, per spec §6 — both
// JobTypeMap and JobTypeAgentExtract processors already marshal their
// domain-specific result shape into ResultBlob, so the envelope here is
// type-agnostic.
func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ownsJob(r, job) {
		writeError(w, r, apierr.New(apierr.CodeForbidden, "job belongs to a different api key"))
		return
	}
	if !job.Status.Terminal() {
		writeError(w, r, apierr.New(apierr.CodeJobNotTerminal, "job has not reached a terminal state").
			WithDetails(map[string]any{"status": string(job.Status)}))
		return
	}
	if job.Status != domain.JobCompleted {
		writeJSON(w, http.StatusOK, newJobResponse(job))
		return
	}

	var result json.RawMessage = job.ResultBlob
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": newJobResponse(job), "result": result})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ownsJob(r, job) {
		writeError(w, r, apierr.New(apierr.CodeForbidden, "job belongs to a different api key"))
		return
	}
	if err := s.deps.Jobs.Cancel(r.Context(), jobID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancel_requested"})
}

func ownsJob(r *http.Request, job domain.Job) bool {
	key, ok := apiKeyFrom(r.Context())
	if !ok {
		return true
	}
	return key.ID == job.ApiKeyID
}
