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

package config

import (
	"crypto/tls"
	"fmt"
)

// TLSConfig controls TLS for the HTTP listener
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`

	// MinVersion is TLS1.2 (default) or TLS1.3.
	MinVersion string `yaml:"min_version" mapstructure:"min_version"`

	// CipherSuites restricts TLS 1.2 suites. Empty uses Go's defaults.
	CipherSuites []string `yaml:"cipher_suites" mapstructure:"cipher_suites"`
}

// Validate checks TLS settings.
func (cfg TLSConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.CertFile == "" {
		return fmt.Errorf("TLS cert_file is required when TLS is enabled")
	}
	if cfg.KeyFile == "" {
		return fmt.Errorf("TLS key_file is required when TLS is enabled")
	}
	if _, err := parseTLSVersion(cfg.MinVersion); err != nil {
		return err
	}
	if _, err := parseCipherSuites(cfg.CipherSuites); err != nil {
		return err
	}
	return nil
}

// LoadTLSConfig builds a tls.Config, or returns nil when TLS is disabled.
func (cfg TLSConfig) LoadTLSConfig() (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - MinVersion is TLS 1.2 or higher
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}

	if len(cfg.CipherSuites) > 0 {
		suites, err := parseCipherSuites(cfg.CipherSuites)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cipher suites: %w", err)
		}
		tlsConfig.CipherSuites = suites
	}

	return tlsConfig, nil
}

func parseTLSVersion(version string) (uint16, error) {
	switch version {
	case "", "TLS1.2":
		return tls.VersionTLS12, nil
	case "TLS1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min_version: %s (must be TLS1.2 or TLS1.3)", version)
	}
}

func parseCipherSuites(names []string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}

	result := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite: %s", name)
		}
		result = append(result, id)
	}
	return result, nil
}
