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

// Package validation provides the input checks shared by the HTTP handlers,
// the ceremony service and the CLI.
package validation

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxEmailLength    = 254
	maxRPIDLength     = 253
	maxFilenameLength = 255
)

var (
	// rpIDPattern matches a DNS host name without scheme or port.
	rpIDPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?\.)*[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$`)
)

// NormalizeEmail trims and lower-cases an email address and checks that it
// is a bare addr-spec. The normalized form is the identity key for users.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("email cannot be empty")
	}
	if len(email) > maxEmailLength {
		return "", fmt.Errorf("email too long (max %d characters)", maxEmailLength)
	}
	if hasControl(email) {
		return "", fmt.Errorf("email contains control characters")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("email is not a valid address")
	}
	return email, nil
}

// ValidateRPID validates a relying party identifier (a host name).
func ValidateRPID(rpID string) error {
	if rpID == "" {
		return fmt.Errorf("rp id cannot be empty")
	}
	if len(rpID) > maxRPIDLength {
		return fmt.Errorf("rp id too long (max %d characters)", maxRPIDLength)
	}
	if !rpIDPattern.MatchString(rpID) {
		return fmt.Errorf("rp id must be a lower-case host name without scheme or port")
	}
	return nil
}

// ValidateMarkdownFilename checks an uploaded file name. Only the base name
// is meaningful; directories and traversal are rejected.
func ValidateMarkdownFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if len(name) > maxFilenameLength {
		return fmt.Errorf("filename too long (max %d characters)", maxFilenameLength)
	}
	if strings.Contains(name, "\x00") || hasControl(name) {
		return fmt.Errorf("filename contains control characters")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("filename cannot contain a path")
	}
	if !strings.HasSuffix(strings.ToLower(name), ".md") {
		return fmt.Errorf("only .md files are allowed")
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}

	return s
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 32 || r == 127 {
			return true
		}
	}
	return false
}
