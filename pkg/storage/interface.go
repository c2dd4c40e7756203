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

// Package storage provides the document store used by the passkey service.
// Backends hold opaque byte values under slash separated keys and must
// provide three atomic primitives on top of plain reads and writes:
// create-if-absent (PutIfAbsent), fetch-and-delete (Take) and
// compare-and-delete (DeleteIfEqual).
package storage

import (
	"context"
	"io/fs"
)

// Backend defines the interface for storage backends.
// All implementations must be safe for concurrent use.
type Backend interface {
	// Get retrieves the value for the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the value for the given key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte, opts *Options) error

	// PutIfAbsent stores the value only if the key does not exist.
	// Returns ErrAlreadyExists otherwise. Of any number of concurrent
	// callers for the same key, exactly one succeeds.
	PutIfAbsent(ctx context.Context, key string, value []byte) error

	// Take atomically reads and removes the value for the given key.
	// Returns ErrNotFound if the key does not exist. Of any number of
	// concurrent callers for the same key, at most one receives the value.
	Take(ctx context.Context, key string) ([]byte, error)

	// Delete removes the key and its value from storage.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// DeleteIfEqual removes the key only while it still holds expected.
	// Returns ErrNotFound if the key does not exist and ErrConflict if it
	// holds a different value, in which case nothing is removed.
	DeleteIfEqual(ctx context.Context, key string, expected []byte) error

	// List returns all keys with the given prefix in sorted order.
	// If prefix is empty, all keys are returned.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if a key exists in storage.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// Options contains optional parameters for storage operations.
type Options struct {
	// Permissions sets the file permissions for file-based storage
	Permissions fs.FileMode

	// Metadata contains additional key-value pairs for storage operations
	Metadata map[string]string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Permissions: 0600,
		Metadata:    make(map[string]string),
	}
}
