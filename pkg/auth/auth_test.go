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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeremyhahn/go-passkeys/pkg/session"
	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUsers knows a fixed set of emails.
type fakeUsers struct {
	emails map[string]bool
	err    error
}

func (f *fakeUsers) GetUser(_ context.Context, email string) (*webauthn.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.emails[email] {
		return nil, webauthn.ErrUserNotFound
	}
	return webauthn.NewUser(email, time.Now()), nil
}

func newIssuer(t *testing.T) *session.JWTIssuer {
	t.Helper()
	signer, err := session.GenerateKey(session.KeyAlgorithmES256)
	require.NoError(t, err)
	issuer, err := session.NewJWTIssuer(&session.JWTConfig{Signer: signer})
	require.NoError(t, err)
	return issuer
}

func newAuthenticator(t *testing.T, issuer *session.JWTIssuer, users UserLookup) *TokenAuthenticator {
	t.Helper()
	a, err := NewTokenAuthenticator(&TokenConfig{Verifier: issuer, Users: users})
	require.NoError(t, err)
	return a
}

func TestNewTokenAuthenticator_Validation(t *testing.T) {
	issuer := newIssuer(t)

	_, err := NewTokenAuthenticator(nil)
	assert.Error(t, err)
	_, err = NewTokenAuthenticator(&TokenConfig{Users: &fakeUsers{}})
	assert.ErrorContains(t, err, "token verifier is required")
	_, err = NewTokenAuthenticator(&TokenConfig{Verifier: issuer})
	assert.ErrorContains(t, err, "user lookup is required")

	a := newAuthenticator(t, issuer, &fakeUsers{})
	assert.Equal(t, "session_token", a.Name())
}

func TestTokenAuthenticator_AuthenticateHTTP(t *testing.T) {
	issuer := newIssuer(t)
	a := newAuthenticator(t, issuer, &fakeUsers{emails: map[string]bool{"a@x.com": true}})

	token, err := issuer.Mint(context.Background(), "a@x.com")
	require.NoError(t, err)
	stranger, err := issuer.Mint(context.Background(), "b@x.com")
	require.NoError(t, err)
	foreign, err := newIssuer(t).Mint(context.Background(), "a@x.com")
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		subject string
	}{
		{"bearer token", "Bearer " + token, "a@x.com"},
		{"lower-case scheme", "bearer " + token, "a@x.com"},
		{"bare token", token, "a@x.com"},
		{"missing header", "", ""},
		{"empty bearer", "Bearer ", ""},
		{"garbage", "Bearer not-a-token", ""},
		{"unregistered subject", "Bearer " + stranger, ""},
		{"other signing key", "Bearer " + foreign, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/blog-upload", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			identity, err := a.AuthenticateHTTP(req)
			if tt.subject == "" {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Nil(t, identity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, identity.Subject)
			assert.Equal(t, "session_token", identity.Attributes["auth_method"])
			assert.False(t, identity.ExpiresAt.IsZero())
		})
	}
}

func TestTokenAuthenticator_LookupFailure(t *testing.T) {
	issuer := newIssuer(t)
	a := newAuthenticator(t, issuer, &fakeUsers{err: webauthn.ErrPersistence})

	token, err := issuer.Mint(context.Background(), "a@x.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/blog-upload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, err = a.AuthenticateHTTP(req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, webauthn.ErrPersistence)
}

// staticAuthenticator returns a fixed outcome.
type staticAuthenticator struct {
	identity *Identity
	err      error
}

func (s staticAuthenticator) AuthenticateHTTP(*http.Request) (*Identity, error) {
	return s.identity, s.err
}

func (staticAuthenticator) Name() string { return "static" }

func TestMiddleware(t *testing.T) {
	var seen *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	quiet := slog.New(slog.DiscardHandler)

	tests := []struct {
		name       string
		method     string
		auth       staticAuthenticator
		wantStatus int
		wantCode   string
	}{
		{"authenticated", http.MethodPost, staticAuthenticator{identity: &Identity{Subject: "a@x.com"}}, http.StatusOK, ""},
		{"unauthorized", http.MethodPost, staticAuthenticator{err: ErrUnauthorized}, http.StatusUnauthorized, "unauthorized"},
		{"lookup failure", http.MethodPost, staticAuthenticator{err: errors.New("db down")}, http.StatusInternalServerError, "internal_error"},
		{"preflight skipped", http.MethodOptions, staticAuthenticator{err: ErrUnauthorized}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			rr := httptest.NewRecorder()
			Middleware(tt.auth, quiet)(next).ServeHTTP(rr, httptest.NewRequest(tt.method, "/blog-upload", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantCode == "" {
				if tt.auth.identity != nil {
					require.NotNil(t, seen)
					assert.Equal(t, "a@x.com", seen.Subject)
				}
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Nil(t, seen)
		})
	}
}

func TestIdentityContext(t *testing.T) {
	assert.Nil(t, GetIdentity(context.Background()))
	ctx := WithIdentity(context.Background(), &Identity{Subject: "a@x.com"})
	assert.Equal(t, "a@x.com", GetIdentity(ctx).Subject)
}
