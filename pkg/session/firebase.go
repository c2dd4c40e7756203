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
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jeremyhahn/go-passkeys/pkg/metrics"
)

// FirebaseAudience is the audience Firebase Authentication requires on
// custom tokens.
const FirebaseAudience = "https://identitytoolkit.googleapis.com/google.identity.identitytoolkit.v1.IdentityToolkit"

// MaxFirebaseTTL is the longest lifetime Firebase accepts for a custom token.
const MaxFirebaseTTL = time.Hour

// ServiceAccount holds the fields of a Google service account key file
// needed to mint custom tokens.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// ParseServiceAccount decodes a service account JSON key file.
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("failed to parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("service account requires client_email and private_key")
	}
	return &sa, nil
}

// FirebaseConfig configures a FirebaseIssuer.
type FirebaseConfig struct {
	// ProjectID is the Firebase project. Informational only.
	ProjectID string

	// ClientEmail is the service account email, used as iss and sub (required).
	ClientEmail string

	// Signer is the service account RSA key (required).
	Signer crypto.Signer

	// TTL is the token lifetime. Default and maximum: 1 hour.
	TTL time.Duration
}

// FirebaseIssuer mints Firebase Authentication custom tokens.
type FirebaseIssuer struct {
	clientEmail string
	signer      crypto.Signer
	method      *SigningMethodSigner
	ttl         time.Duration
	now         func() time.Time
}

// FirebaseClaims are the claims of a Firebase custom token.
type FirebaseClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// NewFirebaseIssuer creates a FirebaseIssuer.
func NewFirebaseIssuer(config *FirebaseConfig) (*FirebaseIssuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.ClientEmail == "" {
		return nil, fmt.Errorf("client email is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if _, ok := config.Signer.Public().(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("%w: firebase custom tokens require an RSA key", ErrInvalidKey)
	}

	ttl := config.TTL
	if ttl <= 0 || ttl > MaxFirebaseTTL {
		ttl = MaxFirebaseTTL
	}

	method, err := NewSigningMethodSigner("RS256")
	if err != nil {
		return nil, err
	}

	return &FirebaseIssuer{
		clientEmail: config.ClientEmail,
		signer:      config.Signer,
		method:      method,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// Mint creates a custom token whose uid is the email.
func (f *FirebaseIssuer) Mint(_ context.Context, email string) (string, error) {
	now := f.now()
	claims := FirebaseClaims{
		UID: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    f.clientEmail,
			Subject:   f.clientEmail,
			Audience:  jwt.ClaimStrings{FirebaseAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(f.method, claims).SignedString(f.signer)
	if err != nil {
		metrics.RecordTokenIssued(ProviderFirebase, metrics.StatusError)
		return "", fmt.Errorf("failed to sign custom token: %w", err)
	}
	metrics.RecordTokenIssued(ProviderFirebase, metrics.StatusSuccess)
	return token, nil
}

// Verify checks a custom token minted by this issuer and returns its uid
// as the subject.
func (f *FirebaseIssuer) Verify(_ context.Context, tokenString string) (*Claims, error) {
	var claims FirebaseClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (interface{}, error) {
			return f.signer.Public(), nil
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(FirebaseAudience),
		jwt.WithIssuer(f.clientEmail),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(f.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}

	return &Claims{
		Subject:   claims.UID,
		IssuedAt:  numericTime(claims.IssuedAt),
		ExpiresAt: numericTime(claims.ExpiresAt),
	}, nil
}
