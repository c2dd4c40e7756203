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

package session

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jeremyhahn/go-passkeys/pkg/metrics"
)

// JWTConfig contains configuration for the JWT issuer.
type JWTConfig struct {
	// Signer is the key used to sign tokens (required).
	Signer crypto.Signer

	// Algorithm is the JWS algorithm. Default: derived from the key.
	Algorithm string

	// KeyID is the kid header. Default: derived from the public key.
	KeyID string

	// Issuer is the JWT issuer claim (default: "go-passkeys")
	Issuer string

	// Audience is the JWT audience claim (default: ["go-passkeys"])
	Audience []string

	// TTL is how long tokens are valid (default: 1 hour)
	TTL time.Duration
}

// JWTIssuer mints JWTs for authenticated users.
type JWTIssuer struct {
	signer   crypto.Signer
	method   *SigningMethodSigner
	keyID    string
	issuer   string
	audience []string
	ttl      time.Duration
	now      func() time.Time
}

// TokenClaims are the claims of a session JWT.
type TokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTIssuer creates a new JWT issuer with the given configuration.
func NewJWTIssuer(config *JWTConfig) (*JWTIssuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	pub := config.Signer.Public()

	algorithm := config.Algorithm
	if algorithm == "" {
		var err error
		if algorithm, err = AlgorithmFor(pub); err != nil {
			return nil, err
		}
	}
	method, err := NewSigningMethodSigner(algorithm)
	if err != nil {
		return nil, err
	}

	keyID := config.KeyID
	if keyID == "" {
		if keyID, err = KeyID(pub); err != nil {
			return nil, err
		}
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkeys"
	}

	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkeys"}
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &JWTIssuer{
		signer:   config.Signer,
		method:   method,
		keyID:    keyID,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Mint creates a JWT for the authenticated email.
func (j *JWTIssuer) Mint(_ context.Context, email string) (string, error) {
	now := j.now()
	claims := TokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    j.issuer,
			Subject:   email,
			Audience:  jwt.ClaimStrings(j.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}

	token := jwt.NewWithClaims(j.method, claims)
	token.Header["kid"] = j.keyID

	signed, err := token.SignedString(j.signer)
	if err != nil {
		metrics.RecordTokenIssued(ProviderJWT, metrics.StatusError)
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	metrics.RecordTokenIssued(ProviderJWT, metrics.StatusSuccess)
	return signed, nil
}

// Verify verifies a JWT and returns the claims.
func (j *JWTIssuer) Verify(_ context.Context, tokenString string) (*Claims, error) {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(token *jwt.Token) (interface{}, error) {
			if kid, _ := token.Header["kid"].(string); kid != j.keyID {
				return nil, fmt.Errorf("unknown key id %q", kid)
			}
			return j.signer.Public(), nil
		},
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience[0]),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Claims{
		Subject:   claims.Subject,
		IssuedAt:  numericTime(claims.IssuedAt),
		ExpiresAt: numericTime(claims.ExpiresAt),
	}, nil
}

// PublicKey returns the public key for token verification.
func (j *JWTIssuer) PublicKey() crypto.PublicKey {
	return j.signer.Public()
}

// KeyID returns the kid header value.
func (j *JWTIssuer) KeyID() string {
	return j.keyID
}

// Algorithm returns the JWS algorithm.
func (j *JWTIssuer) Algorithm() string {
	return j.method.Alg()
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
