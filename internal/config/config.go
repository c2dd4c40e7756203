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

// Package config loads passkeyd configuration from an optional YAML file,
// PASSKEYS_* environment variables and the environment names used by the
// serverless deployment this service replaces.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passkeys/pkg/blog"
	"github.com/jeremyhahn/go-passkeys/pkg/logging"
	"github.com/jeremyhahn/go-passkeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkeys/pkg/session"
	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PASSKEYS"

// Storage backend names.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Logging   logging.Config   `yaml:"logging" mapstructure:"logging"`
	WebAuthn  webauthn.Config  `yaml:"webauthn" mapstructure:"webauthn"`
	Session   SessionConfig    `yaml:"session" mapstructure:"session"`
	Storage   StorageConfig    `yaml:"storage" mapstructure:"storage"`
	RateLimit ratelimit.Config `yaml:"ratelimit" mapstructure:"ratelimit"`
	Metrics   MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Health    HealthConfig     `yaml:"health" mapstructure:"health"`
	Blog      BlogConfig       `yaml:"blog" mapstructure:"blog"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	TLS             TLSConfig     `yaml:"tls" mapstructure:"tls"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionConfig selects and configures the session token issuer
type SessionConfig struct {
	// Provider is firebase or jwt.
	Provider string         `yaml:"provider" mapstructure:"provider"`
	TTL      time.Duration  `yaml:"ttl" mapstructure:"ttl"`
	Firebase FirebaseConfig `yaml:"firebase" mapstructure:"firebase"`
	JWT      JWTConfig      `yaml:"jwt" mapstructure:"jwt"`
}

// FirebaseConfig holds the service account used to mint custom tokens.
// Either CredentialsFile or ClientEmail and PrivateKey must be set.
type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	ClientEmail     string `yaml:"client_email" mapstructure:"client_email"`
	PrivateKey      string `yaml:"private_key" mapstructure:"private_key"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// JWTConfig configures locally signed session tokens. With no key file
// and no KMS key an ephemeral key is generated at startup.
type JWTConfig struct {
	KeyFile    string            `yaml:"key_file" mapstructure:"key_file"`
	Passphrase string            `yaml:"passphrase" mapstructure:"passphrase"`
	Algorithm  string            `yaml:"algorithm" mapstructure:"algorithm"`
	Issuer     string            `yaml:"issuer" mapstructure:"issuer"`
	Audience   []string          `yaml:"audience" mapstructure:"audience"`
	KMS        session.KMSConfig `yaml:"kms" mapstructure:"kms"`
}

// StorageConfig selects the document store
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Path is the directory (file) or database file (sqlite).
	Path string `yaml:"path" mapstructure:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	CollectInterval time.Duration `yaml:"collect_interval" mapstructure:"collect_interval"`
}

// HealthConfig controls health check endpoints
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	CheckTimeout time.Duration `yaml:"check_timeout" mapstructure:"check_timeout"`
}

// BlogConfig controls the markdown upload endpoint
type BlogConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxUploadBytes int           `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	Archive        blog.S3Config `yaml:"archive" mapstructure:"archive"`
}

// ArchiveEnabled reports whether uploads are copied to S3.
func (b BlogConfig) ArchiveEnabled() bool {
	return b.Archive.Bucket != ""
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8888,
	"server.read_timeout":     15 * time.Second,
	"server.write_timeout":    15 * time.Second,
	"server.idle_timeout":     60 * time.Second,
	"server.shutdown_timeout": 30 * time.Second,
	"server.cors_origins":     []string{"*"},
	"server.max_body_bytes":   int64(64 << 10),
	"server.tls.enabled":      false,
	"server.tls.cert_file":    "",
	"server.tls.key_file":     "",
	"server.tls.min_version":  "TLS1.2",

	"logging.level":      "info",
	"logging.format":     "text",
	"logging.add_source": false,

	"webauthn.id":                       "localhost",
	"webauthn.display_name":             "SaulDev Portfolio",
	"webauthn.origins":                  []string{"http://localhost:8888"},
	"webauthn.allowed_rp_ids":           []string{},
	"webauthn.timeout":                  60 * time.Second,
	"webauthn.challenge_ttl":            5 * time.Minute,
	"webauthn.sweep_interval":           time.Minute,
	"webauthn.user_verification":        "preferred",
	"webauthn.attestation":              "none",
	"webauthn.resident_key":             "preferred",
	"webauthn.authenticator_attachment": "platform",
	"webauthn.sign_count_policy":        webauthn.SignCountPersist,
	"webauthn.debug":                    false,

	"session.provider":                  session.ProviderJWT,
	"session.ttl":                       time.Hour,
	"session.firebase.project_id":       "",
	"session.firebase.client_email":     "",
	"session.firebase.private_key":      "",
	"session.firebase.credentials_file": "",
	"session.jwt.key_file":              "",
	"session.jwt.passphrase":            "",
	"session.jwt.algorithm":             "",
	"session.jwt.issuer":                "go-passkeys",
	"session.jwt.audience":              []string{"go-passkeys"},
	"session.jwt.kms.region":            "",
	"session.jwt.kms.key_id":            "",
	"session.jwt.kms.access_key_id":     "",
	"session.jwt.kms.secret_access_key": "",
	"session.jwt.kms.session_token":     "",
	"session.jwt.kms.endpoint":          "",

	"storage.backend": StorageFile,
	"storage.path":    "data",
	"storage.dsn":     "",

	"ratelimit.enabled":             true,
	"ratelimit.requests_per_minute": 60,
	"ratelimit.burst":               20,
	"ratelimit.trust_proxy_headers": false,
	"ratelimit.cleanup_interval":    10 * time.Minute,
	"ratelimit.max_idle":            30 * time.Minute,

	"metrics.enabled":          true,
	"metrics.path":             "/metrics",
	"metrics.collect_interval": 15 * time.Second,

	"health.enabled":       true,
	"health.check_timeout": 2 * time.Second,

	"blog.enabled":                   true,
	"blog.max_upload_bytes":          1 << 20,
	"blog.archive.bucket":            "",
	"blog.archive.prefix":            "posts/",
	"blog.archive.region":            "",
	"blog.archive.endpoint":          "",
	"blog.archive.access_key_id":     "",
	"blog.archive.secret_access_key": "",
	"blog.archive.use_path_style":    false,
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	cfg, err := load(newViper(), "")
	if err != nil {
		// defaults are static and always decode
		panic(err)
	}
	return cfg
}

// Load reads configuration from path (optional), PASSKEYS_* environment
// variables and legacy environment names, then validates it.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := load(v, path)
	if err != nil {
		return nil, err
	}

	applyLegacyEnv(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// applyLegacyEnv maps the environment variable names of the serverless
// deployment onto the configuration.
func applyLegacyEnv(v *viper.Viper, cfg *Config) {
	if rpID := os.Getenv("RP_ID"); rpID != "" {
		cfg.WebAuthn.RPID = rpID
	}
	if origin := os.Getenv("ORIGIN"); origin != "" {
		cfg.WebAuthn.RPOrigins = []string{origin}
	}
	if name := os.Getenv("RP_NAME"); name != "" {
		cfg.WebAuthn.RPDisplayName = name
	}

	fb := &cfg.Session.Firebase
	if projectID := os.Getenv("FIREBASE_PROJECT_ID"); projectID != "" {
		fb.ProjectID = projectID
	}
	if email := os.Getenv("FIREBASE_CLIENT_EMAIL"); email != "" {
		fb.ClientEmail = email
	}
	if key := os.Getenv("FIREBASE_PRIVATE_KEY"); key != "" {
		fb.PrivateKey = key
	}
	if fb.ClientEmail != "" && fb.PrivateKey != "" && !explicit(v, "session.provider") {
		cfg.Session.Provider = session.ProviderFirebase
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Storage.DSN = dsn
		if !explicit(v, "storage.backend") {
			cfg.Storage.Backend = StoragePostgres
		}
	}
}

// explicit reports whether key was set by the config file or a
// PASSKEYS_* variable rather than a default.
func explicit(v *viper.Viper, key string) bool {
	if v.InConfig(key) {
		return true
	}
	_, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	return ok
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be positive")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return err
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile, StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the %s backend", c.Storage.Backend)
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn must be specified for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %q (must be memory, file, sqlite or postgres)", c.Storage.Backend)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit requests_per_minute must be positive when enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}

	if c.Blog.Enabled && c.Blog.MaxUploadBytes <= 0 {
		return fmt.Errorf("blog max_upload_bytes must be positive")
	}

	return nil
}

// ErrNoServiceAccount is returned when the firebase provider has no key.
var ErrNoServiceAccount = errors.New("firebase provider requires credentials_file or client_email and private_key")

// Validate checks the issuer selection.
func (s SessionConfig) Validate() error {
	switch s.Provider {
	case session.ProviderFirebase:
		fb := s.Firebase
		if fb.CredentialsFile == "" && (fb.ClientEmail == "" || fb.PrivateKey == "") {
			return ErrNoServiceAccount
		}
	case session.ProviderJWT:
		if s.JWT.KeyFile != "" && s.JWT.KMS.KeyID != "" {
			return fmt.Errorf("jwt key_file and kms key_id are mutually exclusive")
		}
	default:
		return fmt.Errorf("invalid provider: %q (must be firebase or jwt)", s.Provider)
	}
	if s.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}
	return nil
}
