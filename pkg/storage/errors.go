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

package storage

import "errors"

var (
	// ErrClosed is returned when attempting to use a closed storage.
	ErrClosed = errors.New("storage: closed")

	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrAlreadyExists is returned by PutIfAbsent when the key is taken.
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrConflict is returned by DeleteIfEqual when the stored value changed.
	ErrConflict = errors.New("storage: value changed")

	// ErrInvalidKey is returned when a key is empty or unsafe.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrUnsupportedBackend is returned by Open for an unknown backend type.
	ErrUnsupportedBackend = errors.New("storage: unsupported backend")
)
