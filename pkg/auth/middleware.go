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

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Middleware authenticates every non-preflight request. Authentication
// failures get 401 with a JSON error body; lookup failures get 500.
func Middleware(authenticator Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := authenticator.AuthenticateHTTP(r)
			if err != nil {
				if errors.Is(err, ErrUnauthorized) {
					logger.DebugContext(r.Context(), "Authentication failed",
						"authenticator", authenticator.Name(), "error", err)
					w.Header().Set("WWW-Authenticate", `Bearer realm="passkeys"`)
					writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
					return
				}
				logger.ErrorContext(r.Context(), "Authentication error",
					"authenticator", authenticator.Name(), "error", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
