package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"uploadflow/internal/response"
)

// APIKeyMiddleware validates API key authentication
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if no API key configured (for development)
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Check Authorization header (Bearer token)
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token == apiKey {
				next.ServeHTTP(w, r)
				return
			}

			// Check X-API-Key header
			if r.Header.Get("X-API-Key") == apiKey {
				next.ServeHTTP(w, r)
				return
			}

			response.Error(w, http.StatusUnauthorized, response.ErrUnauthorized,
				"Invalid or missing API key",
				"Provide API key via Authorization: Bearer <key> or X-API-Key: <key>")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs one line per request
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path,
				"query", r.URL.RawQuery, "status", rec.status, "duration", time.Since(start))
		})
	}
}
