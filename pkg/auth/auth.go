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

// Package auth resolves the caller identity of authenticated endpoints from
// a session token minted after a passkey ceremony.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrUnauthorized matches every authentication failure. Errors that do not
// match it are infrastructure failures.
var ErrUnauthorized = errors.New("unauthorized")

// Identity represents an authenticated user.
type Identity struct {
	// Subject is the user's email.
	Subject string

	// ExpiresAt is when the presented token stops being valid.
	ExpiresAt time.Time

	// Attributes contains metadata about the authentication (auth method, remote address).
	Attributes map[string]string
}

// Authenticator authenticates an HTTP request and returns an identity.
type Authenticator interface {
	AuthenticateHTTP(r *http.Request) (*Identity, error)

	// Name returns the authenticator name for logging/debugging
	Name() string
}

// ContextKey is the type for context keys used by the auth package
type ContextKey string

const (
	// IdentityContextKey is the context key for storing authenticated identity
	IdentityContextKey ContextKey = "auth.identity"
)

// GetIdentity extracts the identity from a context
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(IdentityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity adds an identity to a context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}
