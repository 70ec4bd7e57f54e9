// Package httpapi exposes the HTTP interface for the extraction service,
// grounded on the teacher's internal/api/server.go: a chi router with
// request-ID/logging/recover/timeout middleware, handler methods on a
// *Server struct, and writeJSON/writeError response helpers. The teacher's
// single shared-secret apiKeyMiddleware is generalized here into a
// per-request lookup through internal/apikeys, plus a second
// admin-secret-checking middleware for the admin-scoped routes spec §6
// describes.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/apikeys"
	"github.com/webextract/service/internal/domain"
)

type requestIDKey struct{}
type apiKeyCtxKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyFrom(ctx context.Context) (domain.ApiKey, bool) {
	k, ok := ctx.Value(apiKeyCtxKey{}).(domain.ApiKey)
	return k, ok
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("request_id", requestIDFrom(r.Context())))
					writeError(w, r, apierr.New(apierr.CodeInternalError, "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// apiKeyMiddleware authenticates the X-API-Key header against the
// apikeys.Service and, when scope is non-empty, requires the resolved key
// to carry it.
func apiKeyMiddleware(svc *apikeys.Service, scope ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				presented = r.URL.Query().Get("api_key")
			}
			if presented == "" {
				writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing X-API-Key header"))
				return
			}
			key, err := svc.Authenticate(r.Context(), presented)
			if err != nil {
				writeError(w, r, err)
				return
			}
			for _, s := range scope {
				if !key.HasScope(domain.Scope(s)) {
					writeError(w, r, apierr.New(apierr.CodeForbidden, "api key lacks required scope: "+s))
					return
				}
			}
			ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminKeyMiddleware checks the X-Admin-Key header against the configured
// admin secret, generalizing the teacher's single shared-secret
// apiKeyMiddleware into a dedicated admin-only gate.
func adminKeyMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" || r.Header.Get("X-Admin-Key") != secret {
				writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing or invalid X-Admin-Key header"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
