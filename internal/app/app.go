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

// Package app wires configuration into a running passkeyd instance: the
// credential store, session issuer, ceremony and blog services, health
// checks and the HTTP server.
package app

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/jeremyhahn/go-passkeys/internal/config"
	"github.com/jeremyhahn/go-passkeys/internal/rest"
	"github.com/jeremyhahn/go-passkeys/pkg/auth"
	"github.com/jeremyhahn/go-passkeys/pkg/blog"
	"github.com/jeremyhahn/go-passkeys/pkg/health"
	"github.com/jeremyhahn/go-passkeys/pkg/logging"
	"github.com/jeremyhahn/go-passkeys/pkg/metrics"
	"github.com/jeremyhahn/go-passkeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkeys/pkg/session"
	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/jeremyhahn/go-passkeys/pkg/storage/file"
	"github.com/jeremyhahn/go-passkeys/pkg/storage/postgres"
	"github.com/jeremyhahn/go-passkeys/pkg/storage/sqlite"
	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
	whttp "github.com/jeremyhahn/go-passkeys/pkg/webauthn/http"
)

// Options adjusts New.
type Options struct {
	// Version is reported by /health. Defaults to the build version.
	Version string

	// Logger overrides the logger built from the logging config.
	Logger *slog.Logger
}

// App is a fully wired passkeyd instance.
type App struct {
	config *config.Config
	logger *slog.Logger

	backend    storage.Backend
	challenges *webauthn.BackendChallengeStore
	ceremonies *webauthn.Service
	posts      *blog.Service
	issuer     session.Issuer

	healthChecker *health.Checker
	limiter       *ratelimit.Limiter
	sweeper       *webauthn.Sweeper
	collector     *metrics.ResourceCollector
	server        *rest.Server

	closeOnce sync.Once
	closeErr  error
}

// New opens storage and builds every component. Call Close to release
// the store when New succeeds.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logging: %w", err)
		}
	}

	a := &App{config: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	backend, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.backend = backend
	logger.Info("Storage opened", "backend", cfg.Storage.Backend)

	if err := a.initialize(ctx, opts.Version); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initialize(ctx context.Context, version string) error {
	cfg := a.config

	issuer, verifier, jwks, err := NewIssuer(ctx, cfg.Session, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session issuer: %w", err)
	}
	a.issuer = issuer

	a.challenges = webauthn.NewChallengeStore(a.backend)
	a.ceremonies, err = webauthn.NewService(webauthn.ServiceParams{
		Config:         &cfg.WebAuthn,
		UserStore:      webauthn.NewUserStore(a.backend),
		ChallengeStore: a.challenges,
		Issuer:         issuer,
		Logger:         a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ceremony service: %w", err)
	}
	a.sweeper = webauthn.NewSweeper(a.challenges, cfg.WebAuthn.SweepInterval, a.logger)

	a.initializeHealth()

	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.New(&cfg.RateLimit)
	}
	if cfg.Metrics.Enabled {
		a.collector = metrics.NewResourceCollector(cfg.Metrics.CollectInterval)
	}

	tlsConfig, err := cfg.Server.TLS.LoadTLSConfig()
	if err != nil {
		return err
	}

	if version == "" {
		version = buildVersion()
	}

	serverCfg := &rest.Config{
		Addr:          cfg.Server.Addr(),
		Version:       version,
		TLSConfig:     tlsConfig,
		Ceremonies:    whttp.NewHandler(a.ceremonies).WithLogger(a.logger).WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		HealthChecker: a.healthChecker,
		RateLimiter:   a.limiter,
		CORSOrigins:   cfg.Server.CORSOrigins,
		JWKS:          jwks,
		Logger:        a.logger,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
	}
	if cfg.Metrics.Enabled {
		serverCfg.MetricsPath = cfg.Metrics.Path
	}

	if cfg.Blog.Enabled {
		if err := a.initializeBlog(ctx, verifier, serverCfg); err != nil {
			return err
		}
	}

	a.server, err = rest.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}
	return nil
}

func (a *App) initializeHealth() {
	a.healthChecker = health.NewChecker()
	if a.config.Health.CheckTimeout > 0 {
		a.healthChecker.SetCheckTimeout(a.config.Health.CheckTimeout)
	}

	backendName := a.config.Storage.Backend
	a.healthChecker.RegisterCheck("storage", health.PingCheck("storage", a.backend, func(healthy bool) {
		metrics.SetStorageHealth(backendName, healthy)
	}))

	a.logger.Info("Health checker initialized", "checks", len(a.healthChecker.GetAllChecks()))
}

func (a *App) initializeBlog(ctx context.Context, verifier session.Verifier, serverCfg *rest.Config) error {
	cfg := a.config.Blog

	var archiver blog.Archiver
	if cfg.ArchiveEnabled() {
		client, err := blog.NewS3Client(ctx, &cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		s3Archiver, err := blog.NewS3Archiver(client, cfg.Archive.Bucket, cfg.Archive.Prefix)
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		archiver = s3Archiver
		a.logger.Info("Post archive enabled", "bucket", cfg.Archive.Bucket)
	}

	posts, err := blog.NewService(blog.ServiceParams{
		Store:          blog.NewPostStore(a.backend),
		Archiver:       archiver,
		Logger:         a.logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize blog service: %w", err)
	}
	a.posts = posts

	authenticator, err := auth.NewTokenAuthenticator(&auth.TokenConfig{
		Verifier: verifier,
		Users:    a.ceremonies,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize upload authentication: %w", err)
	}

	serverCfg.Uploader = posts
	serverCfg.Authenticator = authenticator
	// content arrives JSON-escaped inside the request envelope
	serverCfg.MaxUploadBodyBytes = int64(cfg.MaxUploadBytes)*2 + 4096
	return nil
}

// OpenStorage opens the configured credential store.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageFile:
		return file.New(cfg.Path)
	case config.StorageSQLite:
		return sqlite.New(ctx, cfg.Path)
	case config.StoragePostgres:
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}

// NewIssuer builds the configured session issuer and its verifier. The
// key set is non-nil only for locally signed JWTs.
func NewIssuer(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (session.Issuer, session.Verifier, *jose.JSONWebKeySet, error) {
	switch cfg.Provider {
	case session.ProviderFirebase:
		issuer, err := newFirebaseIssuer(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return issuer, issuer, nil, nil

	case session.ProviderJWT:
		signer, err := jwtSigner(ctx, cfg.JWT, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		issuer, err := session.NewJWTIssuer(&session.JWTConfig{
			Signer:    signer,
			Algorithm: jwsAlgorithm(cfg.JWT.Algorithm),
			Issuer:    cfg.JWT.Issuer,
			Audience:  cfg.JWT.Audience,
			TTL:       cfg.TTL,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		jwks := session.JWKS(issuer.PublicKey(), issuer.KeyID(), issuer.Algorithm())
		return issuer, issuer, &jwks, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported session provider: %q", cfg.Provider)
	}
}

func newFirebaseIssuer(cfg config.SessionConfig) (*session.FirebaseIssuer, error) {
	fb := cfg.Firebase
	clientEmail, privateKey, projectID := fb.ClientEmail, fb.PrivateKey, fb.ProjectID

	if fb.CredentialsFile != "" {
		// #nosec G304 - credentials path from trusted config
		data, err := os.ReadFile(fb.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read service account: %w", err)
		}
		sa, err := session.ParseServiceAccount(data)
		if err != nil {
			return nil, err
		}
		clientEmail, privateKey = sa.ClientEmail, sa.PrivateKey
		if projectID == "" {
			projectID = sa.ProjectID
		}
	}

	signer, err := session.ParsePrivateKey([]byte(session.NormalizePrivateKey(privateKey)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse firebase private key: %w", err)
	}

	return session.NewFirebaseIssuer(&session.FirebaseConfig{
		ProjectID:   projectID,
		ClientEmail: clientEmail,
		Signer:      signer,
		TTL:         cfg.TTL,
	})
}

func jwtSigner(ctx context.Context, cfg config.JWTConfig, logger *slog.Logger) (crypto.Signer, error) {
	switch {
	case cfg.KMS.KeyID != "":
		client, err := session.NewKMSClient(ctx, &cfg.KMS)
		if err != nil {
			return nil, err
		}
		return session.NewKMSSigner(ctx, client, cfg.KMS.KeyID)

	case cfg.KeyFile != "":
		// #nosec G304 - key path from trusted config
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		var passphrase []byte
		if cfg.Passphrase != "" {
			passphrase = []byte(cfg.Passphrase)
		}
		return session.ParsePrivateKey(data, passphrase)

	default:
		algorithm := cfg.Algorithm
		if algorithm == "" {
			algorithm = session.KeyAlgorithmES256
		}
		logger.Warn("No session signing key configured, generating an ephemeral key; tokens will not survive a restart",
			"algorithm", algorithm)
		return session.GenerateKey(algorithm)
	}
}

// jwsAlgorithm maps a key algorithm name to its JWS name. Empty lets the
// issuer derive it from the key.
func jwsAlgorithm(name string) string {
	switch name {
	case "":
		return ""
	case session.KeyAlgorithmEd25519:
		return "EdDSA"
	case session.KeyAlgorithmES256:
		return "ES256"
	case session.KeyAlgorithmES384:
		return "ES384"
	case session.KeyAlgorithmRS256:
		return "RS256"
	default:
		return name
	}
}

// buildVersion retrieves the version from build information
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// Run serves on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the challenge sweeper and
// resource collector. When ctx is cancelled the server drains within the
// configured shutdown timeout and Serve returns.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(bgCtx)
	}()
	if a.collector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.collector.Run(bgCtx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.Serve(ln) }()

	a.healthChecker.MarkStarted()
	a.logger.Info("passkeyd started",
		"addr", ln.Addr().String(),
		"rp_id", a.config.WebAuthn.RPID,
		"session_provider", a.config.Session.Provider,
		"storage", a.config.Storage.Backend)

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		a.healthChecker.MarkNotStarted()
		shutdownCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout())
		err = a.server.Stop(shutdownCtx)
		stop()
		if serveE := <-serveErr; err == nil {
			err = serveE
		}
	}

	cancel()
	wg.Wait()
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.config.Server.ShutdownTimeout > 0 {
		return a.config.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// Close releases the credential store and stops the rate limiter. It is
// safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.limiter != nil {
			a.limiter.Stop()
		}
		if a.backend != nil {
			if err := a.backend.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
				a.closeErr = fmt.Errorf("failed to close storage: %w", err)
			}
		}
	})
	return a.closeErr
}

// Ceremonies returns the ceremony service.
func (a *App) Ceremonies() *webauthn.Service {
	return a.ceremonies
}

// Posts returns the blog service, or nil when uploads are disabled.
func (a *App) Posts() *blog.Service {
	return a.posts
}

// Issuer returns the session issuer.
func (a *App) Issuer() session.Issuer {
	return a.issuer
}

// Handler returns the HTTP handler, for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}
