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

package webauthn

import (
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RPID:          "example.com",
			RPDisplayName: "Example",
			RPOrigins:     []string{"https://example.com"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing rp id", func(c *Config) { c.RPID = "" }, "RPID is required"},
		{"missing display name", func(c *Config) { c.RPDisplayName = "" }, "RPDisplayName is required"},
		{"missing origins", func(c *Config) { c.RPOrigins = nil }, "RPOrigin"},
		{"negative ttl", func(c *Config) { c.ChallengeTTL = -time.Second }, "negative"},
		{"bad user verification", func(c *Config) { c.UserVerification = "always" }, "user verification"},
		{"bad attestation", func(c *Config) { c.AttestationPreference = "full" }, "attestation"},
		{"bad resident key", func(c *Config) { c.ResidentKeyRequirement = "maybe" }, "resident key"},
		{"bad attachment", func(c *Config) { c.AuthenticatorAttachment = "usb" }, "attachment"},
		{"bad sign count policy", func(c *Config) { c.SignCountPolicy = "strict" }, "sign count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, "preferred", cfg.UserVerification)
	assert.Equal(t, "none", cfg.AttestationPreference)
	assert.Equal(t, "preferred", cfg.ResidentKeyRequirement)
	assert.Equal(t, SignCountPersist, cfg.SignCountPolicy)

	cfg = &Config{ChallengeTTL: time.Minute, SignCountPolicy: SignCountEnforce}
	cfg.SetDefaults()
	assert.Equal(t, time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, SignCountEnforce, cfg.SignCountPolicy)
}

func TestConfig_RPIDs(t *testing.T) {
	cfg := &Config{
		RPID:         "example.com",
		AllowedRPIDs: []string{"auth.example.com", "example.com", "", "auth.example.com"},
	}
	assert.Equal(t, []string{"example.com", "auth.example.com"}, cfg.RPIDs())
}

func TestConfig_ToWebAuthnConfig(t *testing.T) {
	cfg := &Config{
		RPID:                    "example.com",
		RPDisplayName:           "Example",
		RPOrigins:               []string{"https://example.com"},
		UserVerification:        "required",
		AttestationPreference:   "direct",
		ResidentKeyRequirement:  "required",
		AuthenticatorAttachment: "platform",
		Timeout:                 30 * time.Second,
	}

	wc := cfg.ToWebAuthnConfig("auth.example.com")
	assert.Equal(t, "auth.example.com", wc.RPID)
	assert.Equal(t, "Example", wc.RPDisplayName)
	assert.Equal(t, []string{"https://example.com"}, wc.RPOrigins)
	assert.Equal(t, protocol.PreferDirectAttestation, wc.AttestationPreference)
	assert.Equal(t, protocol.VerificationRequired, wc.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.ResidentKeyRequirementRequired, wc.AuthenticatorSelection.ResidentKey)
	assert.Equal(t, protocol.Platform, wc.AuthenticatorSelection.AuthenticatorAttachment)
	assert.Equal(t, 30*time.Second, wc.Timeouts.Login.Timeout)
	assert.False(t, wc.Timeouts.Login.Enforce)
}
