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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passkeys/pkg/storage"
)

// BackendUserStore implements UserStore on a storage.Backend.
type BackendUserStore struct {
	backend storage.Backend
}

// NewUserStore creates a UserStore that keeps users under users/.
func NewUserStore(backend storage.Backend) *BackendUserStore {
	return &BackendUserStore{backend: backend}
}

// Get returns the user for email.
func (s *BackendUserStore) Get(ctx context.Context, email string) (*User, error) {
	data, err := s.backend.Get(ctx, storage.UserKey(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", ErrPersistence, err)
	}
	return &user, nil
}

// Create stores user if no document exists for its email.
func (s *BackendUserStore) Create(ctx context.Context, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("%w: encode user: %v", ErrPersistence, err)
	}

	if err := s.backend.PutIfAbsent(ctx, storage.UserKey(user.Email), data); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Update overwrites the stored user document.
func (s *BackendUserStore) Update(ctx context.Context, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("%w: encode user: %v", ErrPersistence, err)
	}
	if err := s.backend.Put(ctx, storage.UserKey(user.Email), data, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// List returns every stored email.
func (s *BackendUserStore) List(ctx context.Context) ([]string, error) {
	emails, err := storage.ListIDs(ctx, s.backend, storage.UsersCollection)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return emails, nil
}

// BackendChallengeStore implements ChallengeStore on a storage.Backend.
type BackendChallengeStore struct {
	backend storage.Backend
}

// NewChallengeStore creates a ChallengeStore that keeps challenges under challenges/.
func NewChallengeStore(backend storage.Backend) *BackendChallengeStore {
	return &BackendChallengeStore{backend: backend}
}

// Put stores the challenge, replacing any pending one.
func (s *BackendChallengeStore) Put(ctx context.Context, challenge *Challenge) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("%w: encode challenge: %v", ErrPersistence, err)
	}
	if err := s.backend.Put(ctx, storage.ChallengeKey(challenge.Email), data, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Take removes and returns the pending challenge for email.
func (s *BackendChallengeStore) Take(ctx context.Context, email string) (*Challenge, error) {
	data, err := s.backend.Take(ctx, storage.ChallengeKey(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var challenge Challenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		// Already removed; an unreadable challenge cannot be completed.
		return nil, ErrChallengeNotFound
	}
	return &challenge, nil
}

// Sweep deletes expired and unreadable challenges. Removal is conditional on
// the document still holding the bytes that were judged stale, so a challenge
// issued while the sweep runs is never removed.
func (s *BackendChallengeStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.backend.List(ctx, storage.ChallengesCollection)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		data, err := s.backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		var challenge Challenge
		if err := json.Unmarshal(data, &challenge); err == nil && !challenge.Expired(now) {
			continue
		}

		if err := s.backend.DeleteIfEqual(ctx, key, data); err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
				continue
			}
			return removed, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		removed++
	}
	return removed, nil
}
