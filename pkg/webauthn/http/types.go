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

import "encoding/json"

// Ceremony steps accepted in CeremonyRequest.Step.
const (
	StepGenerateOptions      = "generate-options"
	StepVerifyRegistration   = "verify-registration"
	StepVerifyAuthentication = "verify-authentication"
)

// DefaultMaxBodyBytes caps ceremony request bodies.
const DefaultMaxBodyBytes int64 = 64 << 10

// CeremonyRequest is the request body for both ceremony endpoints.
type CeremonyRequest struct {
	// Step selects the ceremony operation.
	Step string `json:"step"`

	// Email identifies the account (required).
	Email string `json:"email"`

	// RPID optionally names the relying party for generate-options. It must
	// be in the server's allow-list.
	RPID string `json:"rpID,omitempty"`

	// Response is the authenticator response for the verify steps.
	Response json.RawMessage `json:"response,omitempty"`
}

// VerifyResponse is returned by both verify steps.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Token    string `json:"token"`
	Email    string `json:"email"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is a caller-facing message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidStep        = "invalid_step"
	ErrorCodeMethodNotAllowed   = "method_not_allowed"
	ErrorCodeRPIDNotAllowed     = "rp_id_not_allowed"
	ErrorCodeAlreadyRegistered  = "already_registered"
	ErrorCodeChallengeNotFound  = "challenge_not_found"
	ErrorCodeUserNotFound       = "user_not_found"
	ErrorCodeCredentialNotFound = "credential_not_found"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeInternalError      = "internal_error"
)
