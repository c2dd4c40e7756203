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
	"fmt"
	"os"
	"path/filepath"
)

// SessionSink is the client-side counterpart of the session issuer: it
// exchanges a freshly minted token for a session (for example Firebase
// signInWithCustomToken).
type SessionSink interface {
	SignInWithToken(ctx context.Context, token string) error
}

// SinkFunc adapts a function to SessionSink.
type SinkFunc func(ctx context.Context, token string) error

// SignInWithToken calls f.
func (f SinkFunc) SignInWithToken(ctx context.Context, token string) error {
	return f(ctx, token)
}

// FileSink stores the token in a file readable only by the owner.
type FileSink struct {
	Path string
}

// SignInWithToken writes the token, replacing any previous one.
func (s *FileSink) SignInWithToken(_ context.Context, token string) error {
	if s.Path == "" {
		return fmt.Errorf("token file path is required")
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}
