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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
	whttp "github.com/jeremyhahn/go-passkeys/pkg/webauthn/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://example.com"

type issuerFunc func(email string) string

func (f issuerFunc) Mint(_ context.Context, email string) (string, error) {
	return f(email), nil
}

// recordingSink collects every token it is handed.
type recordingSink struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (s *recordingSink) SignInWithToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingSink) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// recordingPlatform wraps a Platform and keeps the last options it saw.
type recordingPlatform struct {
	Platform
	creation *CreationOptions
	request  *RequestOptions
}

func (p *recordingPlatform) Create(ctx context.Context, options *CreationOptions) (*Attestation, error) {
	p.creation = options
	return p.Platform.Create(ctx, options)
}

func (p *recordingPlatform) Get(ctx context.Context, options *RequestOptions) (*Assertion, error) {
	p.request = options
	return p.Platform.Get(ctx, options)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	backend := storage.NewMemory()
	svc, err := webauthn.NewService(webauthn.ServiceParams{
		Config: &webauthn.Config{
			RPID:          "example.com",
			RPDisplayName: "Example",
			RPOrigins:     []string{testOrigin},
		},
		UserStore:      webauthn.NewUserStore(backend),
		ChallengeStore: webauthn.NewChallengeStore(backend),
		Issuer:         issuerFunc(func(email string) string { return "session-" + email }),
		Logger:         slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	whttp.MountStdlib(mux, whttp.NewHandler(svc).WithLogger(slog.New(slog.DiscardHandler)))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL string, platform Platform, sink SessionSink) *Client {
	t.Helper()
	c, err := New(&Config{BaseURL: baseURL, Logger: slog.New(slog.DiscardHandler)}, platform, sink)
	require.NoError(t, err)
	return c
}

func newVirtual(t *testing.T, opts ...VirtualOption) *VirtualPlatform {
	t.Helper()
	p, err := NewVirtualPlatform(testOrigin, opts...)
	require.NoError(t, err)
	return p
}

func TestBase64URL_RoundTrip(t *testing.T) {
	challenge := make([]byte, 32)
	for i := range challenge {
		challenge[i] = byte(i)
	}

	encoded := EncodeBase64URL(challenge)
	assert.NotContains(t, encoded, "=")
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")

	decoded, err := DecodeBase64URL(encoded)
	require.NoError(t, err)
	assert.Equal(t, challenge, decoded)
}

func TestDecodeBase64URL_Tolerance(t *testing.T) {
	data := []byte{0xfb, 0xff, 0xfe, 0x01}

	tests := []struct {
		name  string
		input string
	}{
		{"unpadded url", "-__-AQ"},
		{"padded url", "-__-AQ=="},
		{"standard alphabet", "+//+AQ=="},
		{"surrounding space", " -__-AQ\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64URL(tt.input)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}

	_, err := DecodeBase64URL("not*base64")
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestBytes_JSON(t *testing.T) {
	type doc struct {
		ID Bytes `json:"id"`
	}

	out, err := json.Marshal(doc{ID: Bytes{0, 1, 2, 0xff}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"AAEC_w"}`, string(out))

	var in doc
	require.NoError(t, json.Unmarshal(out, &in))
	assert.Equal(t, Bytes{0, 1, 2, 0xff}, in.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":null}`), &in))
	assert.Nil(t, in.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id":42}`), &in))
}

func TestParseCreationOptions(t *testing.T) {
	bare := `{"rp":{"id":"example.com","name":"Example"},"user":{"id":"dXNlcg","name":"a@x.com","displayName":"a@x.com"},"challenge":"AAECAw","pubKeyCredParams":[{"type":"public-key","alg":-7}],"timeout":60000,"excludeCredentials":[{"type":"public-key","id":"_w","transports":["internal"]}],"authenticatorSelection":{"authenticatorAttachment":"platform","residentKey":"preferred","userVerification":"preferred"}}`

	options, err := ParseCreationOptions([]byte(bare))
	require.NoError(t, err)
	assert.Equal(t, Bytes{0, 1, 2, 3}, options.Challenge)
	assert.Equal(t, Bytes("user"), options.User.ID)
	assert.Equal(t, "example.com", options.RP.ID)
	require.Len(t, options.ExcludeCredentials, 1)
	assert.Equal(t, protocol.URLEncodedBase64{0xff}, options.ExcludeCredentials[0].CredentialID)
	assert.Equal(t, protocol.PublicKeyCredentialType, options.ExcludeCredentials[0].Type)
	assert.Equal(t, []protocol.AuthenticatorTransport{protocol.Internal}, options.ExcludeCredentials[0].Transport)
	assert.Equal(t, int64(-7), int64(options.PubKeyCredParams[0].Algorithm))
	require.NotNil(t, options.AuthenticatorSelection)
	assert.Equal(t, protocol.Platform, options.AuthenticatorSelection.AuthenticatorAttachment)
	assert.Equal(t, protocol.ResidentKeyRequirementPreferred, options.AuthenticatorSelection.ResidentKey)
	assert.Equal(t, protocol.VerificationPreferred, options.AuthenticatorSelection.UserVerification)

	wrapped, err := ParseCreationOptions([]byte(`{"publicKey":` + bare + `}`))
	require.NoError(t, err)
	assert.Equal(t, options, wrapped)

	_, err = ParseCreationOptions([]byte(`{"user":{"id":"dXNlcg"}}`))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = ParseCreationOptions([]byte(`{"challenge":"AAECAw"}`))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = ParseCreationOptions([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestParseRequestOptions(t *testing.T) {
	options, err := ParseRequestOptions([]byte(`{"challenge":"AAECAw","rpId":"example.com","allowCredentials":[{"type":"public-key","id":"AQI"}],"userVerification":"preferred"}`))
	require.NoError(t, err)
	assert.Equal(t, "example.com", options.RPID)
	assert.True(t, options.Allows([]byte{1, 2}))
	assert.False(t, options.Allows([]byte{3}))

	open := &RequestOptions{Challenge: Bytes{1}}
	assert.True(t, open.Allows([]byte{9}))

	_, err = ParseRequestOptions([]byte(`{"rpId":"example.com"}`))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestNew_Validation(t *testing.T) {
	platform := newVirtual(t)
	sink := &recordingSink{}

	tests := []struct {
		name     string
		cfg      *Config
		platform Platform
		sink     SessionSink
		errMsg   string
	}{
		{"nil config", nil, platform, sink, "config is required"},
		{"no platform", &Config{BaseURL: "localhost"}, nil, sink, "platform is required"},
		{"no sink", &Config{BaseURL: "localhost"}, platform, nil, "session sink is required"},
		{"no url", &Config{}, platform, sink, "base URL is required"},
		{"bad ca", &Config{BaseURL: "localhost", TLSCAFile: filepath.Join(t.TempDir(), "missing.pem")}, platform, sink, "failed to read CA certificate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.platform, tt.sink)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNew_NormalizesBaseURL(t *testing.T) {
	platform := newVirtual(t)

	c, err := New(&Config{BaseURL: "localhost:8888/"}, platform, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888", c.baseURL)

	c, err = New(&Config{BaseURL: "example.com", TLSEnabled: true}, platform, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", c.baseURL)
}

func TestClient_RegisterThenLogin(t *testing.T) {
	server := newTestServer(t)
	virtual := newVirtual(t)
	platform := &recordingPlatform{Platform: virtual}
	sink := &recordingSink{}
	c := newTestClient(t, server.URL, platform, sink)
	ctx := context.Background()

	result, err := c.Register(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, &Result{Email: "a@x.com", Token: "session-a@x.com"}, result)
	require.NotNil(t, platform.creation)
	assert.Equal(t, "example.com", platform.creation.RP.ID)
	assert.Len(t, platform.creation.Challenge, 32)

	ids := virtual.CredentialIDs("example.com")
	require.Len(t, ids, 1)

	result, err = c.Login(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "session-a@x.com", result.Token)

	require.NotNil(t, platform.request)
	require.Len(t, platform.request.AllowCredentials, 1)
	assert.Equal(t, ids[0], []byte(platform.request.AllowCredentials[0].CredentialID))

	// A second login exercises the advanced signature counter.
	_, err = c.Login(ctx, "a@x.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"session-a@x.com", "session-a@x.com", "session-a@x.com"}, sink.Tokens())
}

func TestClient_LegacyPathPrefix(t *testing.T) {
	server := newTestServer(t)
	sink := &recordingSink{}
	c, err := New(&Config{
		BaseURL:    server.URL,
		PathPrefix: whttp.LegacyPrefix,
		Logger:     slog.New(slog.DiscardHandler),
	}, newVirtual(t), sink)
	require.NoError(t, err)

	_, err = c.Register(context.Background(), "a@x.com")
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Len(t, sink.Tokens(), 2)
}

func TestClient_Cancelled(t *testing.T) {
	server := newTestServer(t)
	sink := &recordingSink{}
	declined := newVirtual(t, WithConsent(func(context.Context, string, string) bool { return false }))
	c := newTestClient(t, server.URL, declined, sink)

	_, err := c.Register(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrNoMatchingCredential)
	assert.Empty(t, sink.Tokens())
}

func TestClient_CancelledLogin(t *testing.T) {
	server := newTestServer(t)
	sink := &recordingSink{}
	allow := true
	platform := newVirtual(t, WithConsent(func(_ context.Context, ceremony, _ string) bool {
		return allow || ceremony == CeremonyCreate
	}))
	c := newTestClient(t, server.URL, platform, sink)

	_, err := c.Register(context.Background(), "a@x.com")
	require.NoError(t, err)

	allow = false
	_, err = c.Login(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Len(t, sink.Tokens(), 1)
}

func TestClient_NoMatchingCredential(t *testing.T) {
	server := newTestServer(t)
	sink := &recordingSink{}

	_, err := newTestClient(t, server.URL, newVirtual(t), sink).Register(context.Background(), "a@x.com")
	require.NoError(t, err)

	other := newTestClient(t, server.URL, newVirtual(t), sink)
	_, err = other.Login(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMatchingCredential)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Len(t, sink.Tokens(), 1)
}

func TestClient_ServerErrors(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	c := newTestClient(t, server.URL, newVirtual(t), &recordingSink{})

	_, err := c.Login(ctx, "nobody@x.com")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, whttp.ErrorCodeUserNotFound, apiErr.Code)
	assert.Equal(t, "User not found or no credentials registered", apiErr.Message)

	_, err = c.Register(ctx, "a@x.com")
	require.NoError(t, err)

	_, err = c.Register(ctx, "a@x.com")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, whttp.ErrorCodeAlreadyRegistered, apiErr.Code)

	_, err = c.Register(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmailRequired)
}

func TestClient_SinkFailure(t *testing.T) {
	server := newTestServer(t)
	sinkErr := errors.New("identity provider unavailable")
	c := newTestClient(t, server.URL, newVirtual(t), &recordingSink{err: sinkErr})

	result, err := c.Register(context.Background(), "a@x.com")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrSignInFailed)
	assert.ErrorIs(t, err, sinkErr)
}

// stubPlatform returns canned credentials without any cryptography.
type stubPlatform struct{}

func (stubPlatform) Create(context.Context, *CreationOptions) (*Attestation, error) {
	return &Attestation{ID: "AQ", RawID: Bytes{1}, Type: PublicKeyType}, nil
}

func (stubPlatform) Get(context.Context, *RequestOptions) (*Assertion, error) {
	return &Assertion{ID: "AQ", RawID: Bytes{1}, Type: PublicKeyType}, nil
}

func TestClient_NotVerified(t *testing.T) {
	var verifyBody whttp.CeremonyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req whttp.CeremonyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Step {
		case whttp.StepGenerateOptions:
			_, _ = w.Write([]byte(`{"rp":{"id":"example.com","name":"Example"},"user":{"id":"dXNlcg","name":"a@x.com","displayName":"a@x.com"},"challenge":"AAECAw"}`))
		default:
			verifyBody = req
			_, _ = w.Write([]byte(`{"verified":false,"token":"","email":"a@x.com"}`))
		}
	}))
	defer server.Close()

	sink := &recordingSink{}
	c := newTestClient(t, server.URL, stubPlatform{}, sink)

	_, err := c.Register(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrNotVerified)
	assert.Empty(t, sink.Tokens())

	assert.Equal(t, whttp.StepVerifyRegistration, verifyBody.Step)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(verifyBody.Response, &sent))
	assert.Equal(t, "AQ", sent["rawId"])
	assert.Equal(t, PublicKeyType, sent["type"])
}

func TestClient_ConnectionFailed(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := newTestClient(t, url, stubPlatform{}, &recordingSink{})
	_, err := c.Login(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestVirtualPlatform_ExcludedCredential(t *testing.T) {
	server := newTestServer(t)
	platform := newVirtual(t)
	c := newTestClient(t, server.URL, platform, &recordingSink{})
	_, err := c.Register(context.Background(), "a@x.com")
	require.NoError(t, err)

	ids := platform.CredentialIDs("example.com")
	_, err = platform.Create(context.Background(), &CreationOptions{
		RP:                 RelyingParty{ID: "example.com", Name: "Example"},
		User:               UserEntity{ID: Bytes("user"), Name: "a@x.com", DisplayName: "a@x.com"},
		Challenge:          Bytes{1, 2, 3},
		ExcludeCredentials: []protocol.CredentialDescriptor{{Type: protocol.PublicKeyCredentialType, CredentialID: ids[0]}},
	})
	assert.ErrorIs(t, err, ErrCredentialExists)

	platform.Forget("example.com")
	assert.Empty(t, platform.CredentialIDs("example.com"))
}

func TestVirtualPlatform_InvalidOrigin(t *testing.T) {
	_, err := NewVirtualPlatform("example.com")
	assert.Error(t, err)
}

func TestVirtualPlatform_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newVirtual(t).Get(ctx, &RequestOptions{Challenge: Bytes{1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	sink := &FileSink{Path: path}

	require.NoError(t, sink.SignInWithToken(context.Background(), "first"))
	require.NoError(t, sink.SignInWithToken(context.Background(), "second"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Error(t, (&FileSink{}).SignInWithToken(context.Background(), "x"))
}

func TestSinkFunc(t *testing.T) {
	var got string
	sink := SinkFunc(func(_ context.Context, token string) error {
		got = token
		return nil
	})
	require.NoError(t, sink.SignInWithToken(context.Background(), "tok"))
	assert.Equal(t, "tok", got)
}
