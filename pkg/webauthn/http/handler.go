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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
)

// Ceremonies is the subset of *webauthn.Service the handlers drive.
type Ceremonies interface {
	BeginRegistration(ctx context.Context, email, rpID string) (*protocol.CredentialCreation, error)
	CompleteRegistration(ctx context.Context, email string, response []byte) (*webauthn.Result, error)
	BeginAuthentication(ctx context.Context, email, rpID string) (*protocol.CredentialAssertion, error)
	CompleteAuthentication(ctx context.Context, email string, response []byte) (*webauthn.Result, error)
}

// Handler provides the step-dispatched HTTP handlers for the registration
// and login ceremonies. It can be mounted on any router.
type Handler struct {
	service      Ceremonies
	logger       *slog.Logger
	maxBodyBytes int64
}

// NewHandler creates a new ceremony HTTP handler.
func NewHandler(service Ceremonies) *Handler {
	return &Handler{
		service:      service,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes. Non-positive values are ignored.
func (h *Handler) WithMaxBodyBytes(n int64) *Handler {
	if n > 0 {
		h.maxBodyBytes = n
	}
	return h
}

// Register handles /webauthn-register.
//
// Request body:
//
//	{"step": "generate-options", "email": "user@example.com"}
//	{"step": "verify-registration", "email": "user@example.com", "response": {...}}
//
// generate-options responds with PublicKeyCredentialCreationOptions;
// verify-registration responds with {"verified", "token", "email"}.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	switch req.Step {
	case StepGenerateOptions:
		options, err := h.service.BeginRegistration(r.Context(), req.Email, req.RPID)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, options.Response)
	case StepVerifyRegistration:
		result, err := h.service.CompleteRegistration(r.Context(), req.Email, req.Response)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		h.writeResult(w, result)
	default:
		h.handleServiceError(w, r, webauthn.ErrInvalidStep)
	}
}

// Login handles /webauthn-login.
//
// Request body:
//
//	{"step": "generate-options", "email": "user@example.com"}
//	{"step": "verify-authentication", "email": "user@example.com", "response": {...}}
//
// generate-options responds with PublicKeyCredentialRequestOptions;
// verify-authentication responds with {"verified", "token", "email"}.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	switch req.Step {
	case StepGenerateOptions:
		options, err := h.service.BeginAuthentication(r.Context(), req.Email, req.RPID)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, options.Response)
	case StepVerifyAuthentication:
		result, err := h.service.CompleteAuthentication(r.Context(), req.Email, req.Response)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		h.writeResult(w, result)
	default:
		h.handleServiceError(w, r, webauthn.ErrInvalidStep)
	}
}

// decode enforces the method rules and parses the request body. It writes
// the response itself and returns false when the request is finished.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*CeremonyRequest, bool) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return nil, false
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed, "Method not allowed")
		return nil, false
	}

	var req CeremonyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "Request body too large")
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "Invalid request body")
		return nil, false
	}

	if bytes.Equal(bytes.TrimSpace(req.Response), []byte("null")) {
		req.Response = nil
	}
	return &req, true
}

func (h *Handler) writeResult(w http.ResponseWriter, result *webauthn.Result) {
	h.writeJSON(w, http.StatusOK, VerifyResponse{
		Verified: result.Verified,
		Token:    result.Token,
		Email:    result.Email,
	})
}

// StatusFor maps a service error to its HTTP status, error code and
// caller-facing message.
func StatusFor(err error) (int, string, string) {
	var reqErr *webauthn.RequestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, ErrorCodeInvalidRequest, reqErr.Message
	case errors.Is(err, webauthn.ErrInvalidRequest):
		return http.StatusBadRequest, ErrorCodeInvalidRequest, "Invalid request"
	case errors.Is(err, webauthn.ErrInvalidStep):
		return http.StatusBadRequest, ErrorCodeInvalidStep, "Invalid step"
	case errors.Is(err, webauthn.ErrRPIDNotAllowed):
		return http.StatusBadRequest, ErrorCodeRPIDNotAllowed, "Relying party not allowed"
	case errors.Is(err, webauthn.ErrAlreadyRegistered):
		return http.StatusBadRequest, ErrorCodeAlreadyRegistered, "User already exists"
	case errors.Is(err, webauthn.ErrChallengeNotFound), errors.Is(err, webauthn.ErrChallengeExpired):
		return http.StatusBadRequest, ErrorCodeChallengeNotFound, "Challenge not found or expired"
	case errors.Is(err, webauthn.ErrUserNotFound):
		return http.StatusNotFound, ErrorCodeUserNotFound, "User not found or no credentials registered"
	case errors.Is(err, webauthn.ErrCredentialNotFound):
		return http.StatusBadRequest, ErrorCodeCredentialNotFound, "Credential not found"
	case errors.Is(err, webauthn.ErrVerificationFailed):
		return http.StatusBadRequest, ErrorCodeVerificationFailed, "Verification failed"
	case errors.Is(err, webauthn.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorCodeUnauthorized, "Unauthorized"
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError, "Internal server error"
	}
}

// handleServiceError maps service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Ceremony request failed",
			"path", r.URL.Path,
			"error", err)
	}
	h.writeError(w, status, code, message)
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
