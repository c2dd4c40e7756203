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

package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeremyhahn/go-passkeys/internal/config"
	"github.com/jeremyhahn/go-passkeys/internal/rest"
	"github.com/jeremyhahn/go-passkeys/pkg/session"
	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.DiscardHandler)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageMemory
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Metrics.CollectInterval = time.Hour
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_ConfigRequired(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	assert.ErrorContains(t, err, "config is required")
}

func TestApp_ServeAndShutdown(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{Logger: quiet, Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Ceremonies())
	assert.NotNil(t, a.Posts())
	assert.IsType(t, &session.JWTIssuer{}, a.Issuer())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/startup")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/health/ready")
	require.NoError(t, err)
	var ready rest.HealthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, ready.Checks, 1)
	assert.Equal(t, "storage", ready.Checks[0].Name)

	resp, err = http.Get(base + rest.PathJWKS)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestApp_BlogDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blog.Enabled = false

	a, err := New(context.Background(), cfg, Options{Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Posts())
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, rest.PathBlogUpload, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"memory", config.StorageConfig{Backend: config.StorageMemory}},
		{"file", config.StorageConfig{Backend: config.StorageFile, Path: filepath.Join(dir, "docs")}},
		{"sqlite", config.StorageConfig{Backend: config.StorageSQLite, Path: filepath.Join(dir, "passkeys.db")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := OpenStorage(ctx, tt.cfg)
			require.NoError(t, err)
			defer backend.Close()

			require.NoError(t, backend.PutIfAbsent(ctx, storage.UserKey("a@x.com"), []byte(`{}`)))
			assert.NoError(t, backend.Ping(ctx))
		})
	}

	_, err := OpenStorage(ctx, config.StorageConfig{Backend: "mongo"})
	assert.ErrorContains(t, err, "unsupported storage backend")
}

func TestNewIssuer_JWT(t *testing.T) {
	ctx := context.Background()

	pemBytes, err := session.GenerateKeyPEM(session.KeyAlgorithmEd25519, []byte("secret"))
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(keyFile, pemBytes, 0o600))

	cfg := config.Default().Session
	cfg.JWT.KeyFile = keyFile
	cfg.JWT.Passphrase = "secret"

	issuer, verifier, jwks, err := NewIssuer(ctx, cfg, quiet)
	require.NoError(t, err)
	require.NotNil(t, jwks)
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "EdDSA", jwks.Keys[0].Algorithm)

	token, err := issuer.Mint(ctx, "a@x.com")
	require.NoError(t, err)
	claims, err := verifier.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Subject)

	cfg.JWT.Passphrase = ""
	_, _, _, err = NewIssuer(ctx, cfg, quiet)
	assert.ErrorIs(t, err, session.ErrInvalidKey)
}

func TestNewIssuer_EphemeralKey(t *testing.T) {
	cfg := config.Default().Session
	cfg.JWT.Algorithm = session.KeyAlgorithmES384

	issuer, _, jwks, err := NewIssuer(context.Background(), cfg, quiet)
	require.NoError(t, err)
	assert.NotNil(t, issuer)
	assert.Equal(t, "ES384", jwks.Keys[0].Algorithm)
}

func TestNewIssuer_Firebase(t *testing.T) {
	ctx := context.Background()

	rsaPEM, err := session.GenerateKeyPEM(session.KeyAlgorithmRS256, nil)
	require.NoError(t, err)

	cfg := config.Default().Session
	cfg.Provider = session.ProviderFirebase
	cfg.Firebase.ClientEmail = "svc@portfolio.iam.gserviceaccount.com"
	// keys arrive from the environment with literal \n sequences
	cfg.Firebase.PrivateKey = `"` + escapeNewlines(string(rsaPEM)) + `"`

	issuer, verifier, jwks, err := NewIssuer(ctx, cfg, quiet)
	require.NoError(t, err)
	assert.Nil(t, jwks)
	assert.IsType(t, &session.FirebaseIssuer{}, issuer)

	token, err := issuer.Mint(ctx, "a@x.com")
	require.NoError(t, err)
	claims, err := verifier.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Subject)
}

func TestNewIssuer_FirebaseCredentialsFile(t *testing.T) {
	rsaPEM, err := session.GenerateKeyPEM(session.KeyAlgorithmRS256, nil)
	require.NoError(t, err)

	sa, err := json.Marshal(session.ServiceAccount{
		ProjectID:   "portfolio",
		ClientEmail: "svc@portfolio.iam.gserviceaccount.com",
		PrivateKey:  string(rsaPEM),
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, sa, 0o600))

	cfg := config.Default().Session
	cfg.Provider = session.ProviderFirebase
	cfg.Firebase.CredentialsFile = path

	issuer, _, _, err := NewIssuer(context.Background(), cfg, quiet)
	require.NoError(t, err)
	assert.IsType(t, &session.FirebaseIssuer{}, issuer)
}

func TestNewIssuer_FirebaseRejectsECKey(t *testing.T) {
	ecPEM, err := session.GenerateKeyPEM(session.KeyAlgorithmES256, nil)
	require.NoError(t, err)

	cfg := config.Default().Session
	cfg.Provider = session.ProviderFirebase
	cfg.Firebase.ClientEmail = "svc@portfolio.iam.gserviceaccount.com"
	cfg.Firebase.PrivateKey = string(ecPEM)

	_, _, _, err = NewIssuer(context.Background(), cfg, quiet)
	assert.ErrorIs(t, err, session.ErrInvalidKey)
}

func escapeNewlines(s string) string {
	out := make([]byte, 0, len(s)+64)
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, '\\', 'n')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
