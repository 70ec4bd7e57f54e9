package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/webextract/service/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	Details   map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError renders err as spec §6's error envelope, unwrapping an
// *apierr.Error for its code/status and falling back to INTERNAL_ERROR/500
// for anything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Wrap(apierr.CodeInternalError, "internal server error", err)
	}
	writeJSON(w, apiErr.HTTPStatus(), errorEnvelope{Error: errorBody{
		Code:      string(apiErr.Code),
		Message:   apiErr.Message,
		RequestID: requestIDFrom(r.Context()),
		Details:   apiErr.Details,
	}})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.Wrap(apierr.CodeValidationError, "invalid JSON body", err)
	}
	return nil
}

func validationError(err error) *apierr.Error {
	return apierr.Wrap(apierr.CodeValidationError, "request validation failed", err)
}
