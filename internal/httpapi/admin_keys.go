package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webextract/service/internal/apikeys"
	"github.com/webextract/service/internal/domain"
)

type createKeyRequest struct {
	Name      string   `json:"name" validate:"required"`
	Scopes    []string `json:"scopes" validate:"required,min=1"`
	RateLimit int      `json:"rate_limit"`
}

type apiKeyResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"`
	RateLimit  int      `json:"rate_limit"`
	IsActive   bool     `json:"is_active"`
	CreatedAt  string   `json:"created_at"`
	LastUsedAt *string  `json:"last_used_at,omitempty"`
	Key        string   `json:"key,omitempty"`
}

func newApiKeyResponse(key domain.ApiKey) apiKeyResponse {
	scopes := make([]string, len(key.Scopes))
	for i, s := range key.Scopes {
		scopes[i] = string(s)
	}
	resp := apiKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Scopes:    scopes,
		RateLimit: key.RateLimit,
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt.Format(rfc3339),
	}
	if key.LastUsedAt != nil {
		t := key.LastUsedAt.Format(rfc3339)
		resp.LastUsedAt = &t
	}
	return resp
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func (s *Server) createApiKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	scopes := make([]domain.Scope, len(req.Scopes))
	for i, sc := range req.Scopes {
		scopes[i] = domain.Scope(sc)
	}

	created, err := s.deps.ApiKeys.Create(r.Context(), apikeys.CreateParams{
		Name:      req.Name,
		Scopes:    scopes,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := newApiKeyResponse(created.Key)
	resp.Key = created.PlaintextKey
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) listApiKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.ApiKeys.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]apiKeyResponse, len(keys))
	for i, k := range keys {
		out[i] = newApiKeyResponse(k)
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (s *Server) getApiKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "key_id")
	key, err := s.deps.ApiKeys.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newApiKeyResponse(key))
}

type patchKeyRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// patchApiKey toggles the one field spec §3 allows updating in place
// besides last_used_at: is_active.
func (s *Server) patchApiKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "key_id")
	var req patchKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	if err := s.deps.ApiKeys.SetActive(r.Context(), id, *req.IsActive); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := s.deps.ApiKeys.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newApiKeyResponse(key))
}

func (s *Server) revokeApiKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "key_id")
	if err := s.deps.ApiKeys.Revoke(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
