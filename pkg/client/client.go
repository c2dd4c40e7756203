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

// Package client drives WebAuthn ceremonies against a go-passkeys server.
//
// A Client bridges a Platform (the credential capability of the execution
// environment) with the server's two round trips per ceremony:
//
//	generate-options -> Platform.Create / Platform.Get -> verify-*
//
// Server options arrive as base64url text and are decoded to binary before
// the platform sees them; platform output is encoded back to base64url for
// the verify step. On a verified response the session token is handed to a
// SessionSink before success is reported.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	whttp "github.com/jeremyhahn/go-passkeys/pkg/webauthn/http"
)

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 30 * time.Second

var (
	// ErrCancelled is returned when the user dismisses or declines the
	// platform prompt.
	ErrCancelled = errors.New("ceremony cancelled by user")
	// ErrNoMatchingCredential is returned when the platform holds no
	// credential acceptable to the relying party.
	ErrNoMatchingCredential = errors.New("no matching credential on this device")
	// ErrCredentialExists is returned by Create when the platform already
	// holds one of the excluded credentials.
	ErrCredentialExists = errors.New("credential already registered on this device")
	// ErrNotVerified is returned when the server answers the verify step
	// without a verified result and token.
	ErrNotVerified = errors.New("ceremony not verified")
	// ErrSignInFailed wraps a SessionSink failure.
	ErrSignInFailed = errors.New("sign-in with token failed")
	// ErrInvalidOptions is returned for unusable server options.
	ErrInvalidOptions = errors.New("invalid ceremony options")
	// ErrInvalidEncoding is returned for malformed base64url data.
	ErrInvalidEncoding = errors.New("invalid base64url encoding")
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrEmailRequired is returned when no email is given.
	ErrEmailRequired = errors.New("email is required")
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. https://example.com. A missing scheme
	// defaults to http (https when TLSEnabled).
	BaseURL string

	// PathPrefix is prepended to the ceremony paths, e.g. /.netlify/functions.
	PathPrefix string

	// RPID optionally requests a specific relying party id. The server only
	// honours ids in its allow-list.
	RPID string

	// Timeout bounds each HTTP round trip (default 30s).
	Timeout time.Duration

	// TLSEnabled selects https when BaseURL has no scheme.
	TLSEnabled bool

	// TLSInsecureSkipVerify skips certificate verification (development only).
	TLSInsecureSkipVerify bool

	// TLSCAFile is a PEM bundle of additional trusted roots.
	TLSCAFile string

	// Headers are added to every request.
	Headers map[string]string

	// HTTPClient overrides the transport entirely when set.
	HTTPClient *http.Client

	// Logger receives debug output (default: slog.Default()).
	Logger *slog.Logger
}

// Result is a completed, verified and signed-in ceremony.
type Result struct {
	Email string
	Token string
}

// Client runs registration and login ceremonies.
type Client struct {
	config     *Config
	baseURL    string
	httpClient *http.Client
	platform   Platform
	sink       SessionSink
	logger     *slog.Logger
}

// New creates a Client. The platform performs the credential operations and
// the sink receives the session token after every verified ceremony.
func New(cfg *Config, platform Platform, sink SessionSink) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if platform == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("session sink is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	baseURL := cfg.BaseURL
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		if cfg.TLSEnabled {
			baseURL = "https://" + baseURL
		} else {
			baseURL = "http://" + baseURL
		}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var err error
		if httpClient, err = newHTTPClient(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:     cfg,
		baseURL:    baseURL,
		httpClient: httpClient,
		platform:   platform,
		sink:       sink,
		logger:     logger,
	}, nil
}

func newHTTPClient(cfg *Config) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify, //nolint:gosec // opt-in for local development
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

// Register creates a passkey for email and signs in with the issued token.
func (c *Client) Register(ctx context.Context, email string) (*Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	raw, err := c.post(ctx, whttp.PathRegister, &whttp.CeremonyRequest{
		Step:  whttp.StepGenerateOptions,
		Email: email,
		RPID:  c.config.RPID,
	})
	if err != nil {
		return nil, err
	}
	options, err := ParseCreationOptions(raw)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "creating credential", "rp_id", options.RP.ID, "excluded", len(options.ExcludeCredentials))
	attestation, err := c.platform.Create(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	response, err := json.Marshal(attestation)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attestation: %w", err)
	}

	return c.verify(ctx, whttp.PathRegister, &whttp.CeremonyRequest{
		Step:     whttp.StepVerifyRegistration,
		Email:    email,
		Response: response,
	})
}

// Login authenticates email with an existing passkey and signs in with the
// issued token.
func (c *Client) Login(ctx context.Context, email string) (*Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	raw, err := c.post(ctx, whttp.PathLogin, &whttp.CeremonyRequest{
		Step:  whttp.StepGenerateOptions,
		Email: email,
		RPID:  c.config.RPID,
	})
	if err != nil {
		return nil, err
	}
	options, err := ParseRequestOptions(raw)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "requesting assertion", "rp_id", options.RPID, "allowed", len(options.AllowCredentials))
	assertion, err := c.platform.Get(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("get assertion: %w", err)
	}
	response, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assertion: %w", err)
	}

	return c.verify(ctx, whttp.PathLogin, &whttp.CeremonyRequest{
		Step:     whttp.StepVerifyAuthentication,
		Email:    email,
		Response: response,
	})
}

func (c *Client) verify(ctx context.Context, path string, req *whttp.CeremonyRequest) (*Result, error) {
	raw, err := c.post(ctx, path, req)
	if err != nil {
		return nil, err
	}

	var reply whttp.VerifyResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if !reply.Verified || reply.Token == "" {
		return nil, ErrNotVerified
	}

	if err := c.sink.SignInWithToken(ctx, reply.Token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}

	email := reply.Email
	if email == "" {
		email = req.Email
	}
	return &Result{Email: email, Token: reply.Token}, nil
}

// post sends a ceremony request and returns the body of a 2xx reply.
func (c *Client) post(ctx context.Context, path string, body *whttp.CeremonyRequest) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := c.baseURL + c.config.PathPrefix + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp whttp.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, apiErr
	}

	return respBody, nil
}
