// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/jeremyhahn/go-passkeys/pkg/auth"
	"github.com/jeremyhahn/go-passkeys/pkg/correlation"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// newResponseWriter creates a new responseWriter.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs HTTP requests using the configured logger.
func (s *Server) LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			ctx := r.Context()

			s.logger.DebugContext(ctx, "Request started",
				"method", r.Method,
				"path", r.URL.Path)

			next.ServeHTTP(wrapped, r)

			subject := "anonymous"
			if identity := auth.GetIdentity(ctx); identity != nil {
				subject = identity.Subject
			}

			s.logger.InfoContext(ctx, "Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start).String(),
				"subject", subject)
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					s.logger.ErrorContext(r.Context(), "Panic recovered",
						"method", r.Method,
						"path", r.URL.Path,
						"error", err)
					s.writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// CorrelationMiddleware propagates or assigns the request correlation id.
func (s *Server) CorrelationMiddleware() func(http.Handler) http.Handler {
	return correlation.Middleware
}

// CORSMiddleware answers cross-origin requests for the configured origins.
// Preflights pass through so each endpoint answers OPTIONS itself.
func (s *Server) CORSMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:     s.corsOrigins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "Authorization", correlation.CorrelationIDHeader, correlation.RequestIDHeader},
		ExposedHeaders:     []string{correlation.CorrelationIDHeader, "Retry-After"},
		MaxAge:             3600,
		OptionsPassthrough: true,
	})
}
