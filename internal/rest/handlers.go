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
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeremyhahn/go-passkeys/pkg/auth"
	"github.com/jeremyhahn/go-passkeys/pkg/blog"
	"github.com/jeremyhahn/go-passkeys/pkg/health"
	"github.com/jeremyhahn/go-passkeys/pkg/validation"
)

// PathBlogUpload is the markdown upload endpoint.
const PathBlogUpload = "/blog-upload"

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	Live(ctx context.Context) health.CheckResult
	Ready(ctx context.Context) []health.CheckResult
	Startup(ctx context.Context) health.CheckResult
}

// Uploader stores an uploaded post on behalf of an author.
type Uploader interface {
	Upload(ctx context.Context, author string, req *blog.UploadRequest) (*blog.Post, error)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// HealthHandler handles GET /health requests.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, HealthResponse{Status: "healthy", Version: s.version}, http.StatusOK)
}

// JWKSHandler handles GET /.well-known/jwks.json requests.
func (s *Server) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	s.writeJSON(w, s.jwks, http.StatusOK)
}

// UploadHandler handles /blog-upload. OPTIONS answers 200, other non-POST
// methods 405; POST requires a session token for a registered user.
func (s *Server) UploadHandler() http.Handler {
	upload := auth.Middleware(s.authenticator, s.logger)(http.HandlerFunc(s.upload))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			upload.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			s.methodNotAllowed(w, r)
		}
	})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := auth.GetIdentity(ctx)
	if identity == nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req blog.UploadRequest
	body := http.MaxBytesReader(w, r.Body, s.maxUploadBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "Request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "Invalid JSON body")
		return
	}

	post, err := s.uploader.Upload(ctx, identity.Subject, &req)
	if err != nil {
		var uploadErr *blog.UploadError
		if errors.As(err, &uploadErr) {
			s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, uploadErr.Message)
			return
		}
		s.logger.ErrorContext(ctx, "Upload failed",
			"author", validation.SanitizeForLog(identity.Subject),
			"error", err)
		s.writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "Internal server error")
		return
	}

	s.writeJSON(w, blog.UploadResponse{Success: true, Post: post}, http.StatusOK)
}
