package httpapi

import (
	"net/http"

	"github.com/webextract/service/internal/search"
)

type searchRequest struct {
	Query      string `json:"query" validate:"required"`
	NumResults int    `json:"num_results"`
	ScrapeTopN int    `json:"scrape_top_n"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	key, _ := apiKeyFrom(r.Context())

	results, err := s.deps.Search.Search(r.Context(), searchParams(req, key.ID, key.RateLimit, s.deps.governorCap()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func searchParams(req searchRequest, apiKeyID string, rateLimit, governorCap int) search.Params {
	return search.Params{
		Query:       req.Query,
		NumResults:  req.NumResults,
		ScrapeTopN:  req.ScrapeTopN,
		APIKeyID:    apiKeyID,
		RateLimit:   rateLimit,
		GovernorCap: governorCap,
	}
}
