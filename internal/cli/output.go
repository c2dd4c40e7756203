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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passkeys/pkg/webauthn"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintUserList prints registered user emails
func (p *Printer) PrintUserList(emails []string) error {
	switch p.format {
	case OutputFormatJSON:
		if emails == nil {
			emails = []string{}
		}
		return p.printJSON(map[string]interface{}{
			"users": emails,
		})
	case OutputFormatTable, OutputFormatText:
		if len(emails) == 0 {
			fmt.Fprintln(p.writer, "No users found")
			return nil
		}
		fmt.Fprintln(p.writer, "Users:")
		for _, email := range emails {
			fmt.Fprintf(p.writer, "  - %s\n", email)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintUser prints a user and their registered credentials
func (p *Printer) PrintUser(user *webauthn.User) error {
	switch p.format {
	case OutputFormatJSON:
		creds := make([]map[string]interface{}, len(user.Credentials))
		for i, c := range user.Credentials {
			creds[i] = map[string]interface{}{
				"id":            encodeID(c.ID),
				"sign_count":    c.Authenticator.SignCount,
				"clone_warning": c.Authenticator.CloneWarning,
				"attachment":    c.Authenticator.Attachment,
				"created_at":    c.CreatedAt,
				"last_used_at":  c.LastUsedAt,
			}
		}
		return p.printJSON(map[string]interface{}{
			"email":       user.Email,
			"created_at":  user.CreatedAt,
			"updated_at":  user.UpdatedAt,
			"credentials": creds,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "User: %s (%d credentials)\n", user.Email, len(user.Credentials))
		if len(user.Credentials) == 0 {
			return nil
		}
		fmt.Fprintf(p.writer, "%-45s %-10s %-20s %-20s\n", "CREDENTIAL", "COUNT", "CREATED", "LAST USED")
		fmt.Fprintln(p.writer, strings.Repeat("-", 98))
		for _, c := range user.Credentials {
			fmt.Fprintf(p.writer, "%-45s %-10d %-20s %-20s\n",
				encodeID(c.ID), c.Authenticator.SignCount, formatTime(c.CreatedAt), formatTime(c.LastUsedAt))
		}
		return nil
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Email: %s\n", user.Email)
		fmt.Fprintf(p.writer, "Created: %s\n", formatTime(user.CreatedAt))
		fmt.Fprintf(p.writer, "Credentials: %d\n", len(user.Credentials))
		for _, c := range user.Credentials {
			fmt.Fprintf(p.writer, "  - %s (sign count %d, last used %s)\n",
				encodeID(c.ID), c.Authenticator.SignCount, formatTime(c.LastUsedAt))
			if c.Authenticator.CloneWarning {
				fmt.Fprintln(p.writer, "    WARNING: sign counter did not advance, possible cloned authenticator")
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKeyGenerated reports a generated signing key
func (p *Printer) PrintKeyGenerated(algorithm, keyID, path string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":    "success",
			"algorithm": algorithm,
			"kid":       keyID,
			"path":      path,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Generated %s signing key %s\n", algorithm, keyID)
		fmt.Fprintf(p.writer, "Written to: %s\n", path)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCeremony reports a completed client ceremony
func (p *Printer) PrintCeremony(ceremony, email, tokenFile string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":     "success",
			"ceremony":   ceremony,
			"email":      email,
			"token_file": tokenFile,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "%s succeeded for %s\n", ceremony, email)
		if tokenFile != "" {
			fmt.Fprintf(p.writer, "Session token written to %s\n", tokenFile)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintBuild reports the binary's build metadata
func (p *Printer) PrintBuild(info buildInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(info)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "passkeyd %s (%s)\n", info.Version, info.Commit)
		fmt.Fprintf(p.writer, "Built:     %s\n", info.BuildDate)
		fmt.Fprintf(p.writer, "Toolchain: %s %s\n", info.GoVersion, info.Platform)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func encodeID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
