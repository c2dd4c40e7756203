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

package cli

import (
	"github.com/jeremyhahn/go-passkeys/internal/config"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the server configuration file. Empty means
	// built-in defaults overlaid with PASSKEYS_* environment variables.
	ConfigFile string

	// OutputFormat controls output formatting (json, text, table)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
	}
}

// LoadServerConfig loads the server configuration the serve and users
// commands operate on.
func (c *Config) LoadServerConfig() (*config.Config, error) {
	return config.Load(c.ConfigFile)
}
