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
	"context"
	"time"
)

// UserStore persists user documents keyed by normalized email.
type UserStore interface {
	// Get returns the user for email or ErrUserNotFound.
	Get(ctx context.Context, email string) (*User, error)

	// Create stores a new user. It fails with ErrAlreadyRegistered when a
	// user already exists for the email, also under concurrent creation.
	Create(ctx context.Context, user *User) error

	// Update replaces an existing user document.
	Update(ctx context.Context, user *User) error

	// List returns the emails of all users in sorted order.
	List(ctx context.Context) ([]string, error)
}

// ChallengeStore persists at most one pending challenge per email.
type ChallengeStore interface {
	// Put stores the challenge, replacing any pending one for the same email.
	Put(ctx context.Context, challenge *Challenge) error

	// Take atomically removes and returns the pending challenge for email.
	// Returns ErrChallengeNotFound when none exists. Two concurrent Takes
	// for the same email never both succeed.
	Take(ctx context.Context, email string) (*Challenge, error)

	// Sweep deletes challenges that expired before now and returns how many
	// were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// TokenIssuer mints the session token handed out after a successful ceremony.
type TokenIssuer interface {
	Mint(ctx context.Context, email string) (string, error)
}
