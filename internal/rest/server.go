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

package rest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v4"
	"github.com/jeremyhahn/go-passkeys/pkg/auth"
	"github.com/jeremyhahn/go-passkeys/pkg/metrics"
	"github.com/jeremyhahn/go-passkeys/pkg/ratelimit"
	whttp "github.com/jeremyhahn/go-passkeys/pkg/webauthn/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PathJWKS publishes the session token verification keys.
const PathJWKS = "/.well-known/jwks.json"

const defaultMaxUploadBodyBytes = 1 << 20

// Server represents the passkeyd HTTP server.
type Server struct {
	server             *http.Server
	router             chi.Router
	tlsConfig          *tls.Config
	version            string
	ceremonies         *whttp.Handler
	uploader           Uploader
	authenticator      auth.Authenticator
	maxUploadBodyBytes int64
	healthChecker      HealthChecker
	limiter            *ratelimit.Limiter
	corsOrigins        []string
	metricsPath        string
	jwks               *jose.JSONWebKeySet
	logger             *slog.Logger
}

// Config holds the HTTP server configuration.
type Config struct {
	// Addr is the listen address (default: ":8888")
	Addr string

	// Version is reported by GET /health
	Version string

	// TLSConfig enables HTTPS when set (optional)
	TLSConfig *tls.Config

	// Ceremonies serves the passkey endpoints (required)
	Ceremonies *whttp.Handler

	// Uploader enables /blog-upload (optional). Requires Authenticator.
	Uploader      Uploader
	Authenticator auth.Authenticator

	// MaxUploadBodyBytes caps the /blog-upload request body (default: 1 MiB)
	MaxUploadBodyBytes int64

	// HealthChecker backs the /health/* endpoints (optional)
	HealthChecker HealthChecker

	// RateLimiter limits ceremony and upload requests per client (optional)
	RateLimiter *ratelimit.Limiter

	// CORSOrigins are the allowed browser origins (default: "*")
	CORSOrigins []string

	// MetricsPath exposes Prometheus metrics when non-empty
	MetricsPath string

	// JWKS is published at /.well-known/jwks.json when set
	JWKS *jose.JSONWebKeySet

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Ceremonies == nil {
		return nil, fmt.Errorf("ceremony handler is required")
	}
	if cfg.Uploader != nil && cfg.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required when uploads are enabled")
	}

	addr := cfg.Addr
	if addr == "" {
		addr = ":8888"
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 15 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}
	maxUpload := cfg.MaxUploadBodyBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBodyBytes
	}
	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		tlsConfig:          cfg.TLSConfig,
		version:            cfg.Version,
		ceremonies:         cfg.Ceremonies,
		uploader:           cfg.Uploader,
		authenticator:      cfg.Authenticator,
		maxUploadBodyBytes: maxUpload,
		healthChecker:      cfg.HealthChecker,
		limiter:            cfg.RateLimiter,
		corsOrigins:        corsOrigins,
		metricsPath:        cfg.MetricsPath,
		jwks:               cfg.JWKS,
		logger:             logger,
	}
	s.router = s.setupRouter()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		TLSConfig:         cfg.TLSConfig,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(s.CORSMiddleware())

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	r.Get("/health", s.HealthHandler)
	r.Head("/health", s.HealthHandler)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Get("/health/startup", s.StartupHandler)

	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}
	if s.jwks != nil {
		r.Get(PathJWKS, s.JWKSHandler)
	}

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}

		whttp.MountChi(r, s.ceremonies)

		if s.uploader != nil {
			upload := s.UploadHandler()
			r.Handle(PathBlogUpload, upload)
			r.Handle(whttp.LegacyPrefix+PathBlogUpload, upload)
		}
	})

	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.tlsConfig != nil {
		s.logger.Info("Starting HTTPS server", "addr", ln.Addr().String())
		err = s.server.ServeTLS(ln, "", "")
	} else {
		s.logger.Info("Starting HTTP server", "addr", ln.Addr().String())
		err = s.server.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}
