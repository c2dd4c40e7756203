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

// Package session mints and verifies the session tokens handed to clients
// after a successful passkey ceremony.
//
// Two issuers are provided. FirebaseIssuer mints Firebase Authentication
// custom tokens (RS256) that a browser exchanges with signInWithCustomToken.
// JWTIssuer mints self-contained JWTs signed by any crypto.Signer, including
// AWS KMS keys through KMSSigner, and publishes its key as a JWKS.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrInvalidKey is returned when a key cannot be used for signing.
	ErrInvalidKey = errors.New("session: invalid key")

	// ErrUnsupportedAlgorithm is returned for unknown signing algorithms.
	ErrUnsupportedAlgorithm = errors.New("session: unsupported algorithm")

	// ErrInvalidSignature is returned when a signer produced a malformed signature.
	ErrInvalidSignature = errors.New("session: invalid signature encoding")
)

// Provider names, also used as metric labels.
const (
	ProviderFirebase = "firebase"
	ProviderJWT      = "jwt"
)

// Issuer mints a session token for a verified email.
type Issuer interface {
	Mint(ctx context.Context, email string) (string, error)
}

// Verifier validates a session token minted by the matching Issuer.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Claims is the verified content of a session token.
type Claims struct {
	// Subject is the email the token was minted for.
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
