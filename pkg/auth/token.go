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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeremyhahn/go-passkeys/pkg/session"
	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
)

// UserLookup loads a registered user. It returns webauthn.ErrUserNotFound
// for unknown emails.
type UserLookup interface {
	GetUser(ctx context.Context, email string) (*webauthn.User, error)
}

// TokenAuthenticator accepts a bearer session token and requires its
// subject to be a registered user.
type TokenAuthenticator struct {
	verifier   session.Verifier
	users      UserLookup
	headerName string
}

// TokenConfig configures a TokenAuthenticator.
type TokenConfig struct {
	// Verifier validates session tokens (required).
	Verifier session.Verifier

	// Users confirms the subject is registered (required).
	Users UserLookup

	// HeaderName is the HTTP header name (default: "Authorization").
	HeaderName string
}

// NewTokenAuthenticator creates a TokenAuthenticator.
func NewTokenAuthenticator(config *TokenConfig) (*TokenAuthenticator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if config.Users == nil {
		return nil, fmt.Errorf("user lookup is required")
	}

	headerName := config.HeaderName
	if headerName == "" {
		headerName = "Authorization"
	}

	return &TokenAuthenticator{
		verifier:   config.Verifier,
		users:      config.Users,
		headerName: headerName,
	}, nil
}

// AuthenticateHTTP authenticates an HTTP request using a session token.
func (a *TokenAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	authHeader := strings.TrimSpace(r.Header.Get(a.headerName))
	if authHeader == "" {
		return nil, fmt.Errorf("%w: no authorization header", ErrUnauthorized)
	}

	tokenString := authHeader
	if scheme, rest, ok := strings.Cut(authHeader, " "); ok && strings.EqualFold(scheme, "Bearer") {
		tokenString = strings.TrimSpace(rest)
	}
	if tokenString == "" {
		return nil, fmt.Errorf("%w: no token provided", ErrUnauthorized)
	}

	claims, err := a.verifier.Verify(r.Context(), tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	user, err := a.users.GetUser(r.Context(), claims.Subject)
	if errors.Is(err, webauthn.ErrUserNotFound) || errors.Is(err, webauthn.ErrInvalidRequest) {
		return nil, fmt.Errorf("%w: subject is not a registered user", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	return &Identity{
		Subject:   user.Email,
		ExpiresAt: claims.ExpiresAt,
		Attributes: map[string]string{
			"auth_method": "session_token",
			"remote_addr": r.RemoteAddr,
		},
	}, nil
}

// Name returns the authenticator name.
func (a *TokenAuthenticator) Name() string {
	return "session_token"
}
