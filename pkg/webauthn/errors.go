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

package webauthn

import (
	"errors"
	"fmt"
)

// Sentinel errors for ceremony operations.
var (
	// ErrInvalidRequest is returned when a required field is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidStep is returned when a ceremony step name is unknown.
	ErrInvalidStep = errors.New("invalid step")

	// ErrRPIDNotAllowed is returned when a client names an RP ID outside the allow-list.
	ErrRPIDNotAllowed = errors.New("relying party not allowed")

	// ErrAlreadyRegistered is returned when registering an email that already has a user.
	ErrAlreadyRegistered = errors.New("user already exists")

	// ErrChallengeNotFound is returned when no pending challenge exists for the email
	// and ceremony.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired is returned when the pending challenge outlived its TTL.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrUserNotFound is returned when the user does not exist or has no credentials.
	ErrUserNotFound = errors.New("user not found")

	// ErrCredentialNotFound is returned when an assertion names a credential
	// the user does not own.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrVerificationFailed is returned when an authenticator response fails verification.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrClonedAuthenticator is returned when the signature counter did not advance.
	ErrClonedAuthenticator = errors.New("cloned authenticator detected")

	// ErrUnauthorized is returned when a caller's session token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPersistence is returned when the store fails.
	ErrPersistence = errors.New("persistence failure")

	// ErrTokenIssuance is returned when the session issuer cannot mint a token.
	ErrTokenIssuance = errors.New("token issuance failure")
)

// Kind classifies errors for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindVerification
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindVerification:
		return "verification"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidStep),
		errors.Is(err, ErrRPIDNotAllowed),
		errors.Is(err, ErrAlreadyRegistered):
		return KindValidation
	case errors.Is(err, ErrChallengeNotFound),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrCredentialNotFound):
		return KindNotFound
	case errors.Is(err, ErrVerificationFailed):
		return KindVerification
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// ErrorType returns a short snake_case label for err, used in metrics.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrInvalidStep):
		return "invalid_step"
	case errors.Is(err, ErrRPIDNotAllowed):
		return "rp_id_not_allowed"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, ErrClonedAuthenticator):
		return "cloned_authenticator"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrTokenIssuance):
		return "token_issuance"
	default:
		return "internal"
	}
}

// WebAuthnError wraps an error with additional context.
type WebAuthnError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *WebAuthnError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *WebAuthnError) Unwrap() error {
	return e.Err
}

// NewError creates a new WebAuthnError with the given operation and error.
func NewError(op string, err error) error {
	return &WebAuthnError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// invalidf returns an ErrInvalidRequest carrying a caller-facing message.
func invalidf(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// RequestError is an ErrInvalidRequest whose Message is safe to show callers.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return ErrInvalidRequest.Error() + ": " + e.Message }

// Is makes errors.Is(err, ErrInvalidRequest) hold.
func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }
