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

// Package file provides a directory-backed implementation of storage.Backend.
// Each key maps to one file below the root directory. Writes go through a
// temporary file so readers never see partial values; PutIfAbsent relies on
// link(2) failing for an existing target and Take on rename(2) being atomic,
// which keeps both primitives safe across processes sharing the directory.
// DeleteIfEqual claims the file by rename and links it back on a mismatch.
package file

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-passkeys/pkg/storage"
)

const (
	defaultDirPerms  = 0700
	defaultFilePerms = 0600

	// tmpDir holds in-flight writes and taken files; it is never listed.
	tmpDir = ".tmp"
)

// FileStorage is a file-based implementation of storage.Backend.
type FileStorage struct {
	mu      sync.RWMutex
	rootDir string
	closed  bool
}

// New creates a FileStorage rooted at rootDir, creating it with 0700
// permissions if needed.
func New(rootDir string) (*FileStorage, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file storage: root directory cannot be empty")
	}

	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("file storage: resolve root directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(abs, tmpDir), defaultDirPerms); err != nil {
		return nil, fmt.Errorf("file storage: failed to create root directory: %w", err)
	}

	return &FileStorage{rootDir: abs}, nil
}

// Get retrieves the value for the given key.
func (f *FileStorage) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.open(key)
	if err != nil {
		return nil, err
	}
	defer f.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: failed to read key %q: %w", key, err)
	}
	return data, nil
}

// Put stores the value for the given key, replacing any existing file.
func (f *FileStorage) Put(_ context.Context, key string, value []byte, opts *storage.Options) error {
	path, err := f.open(key)
	if err != nil {
		return err
	}
	defer f.mu.RUnlock()

	tmp, err := f.writeTemp(value, permissions(opts))
	if err != nil {
		return fmt.Errorf("file storage: failed to write key %q: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp) }()

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerms); err != nil {
		return fmt.Errorf("file storage: failed to create directory for key %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file storage: failed to write key %q: %w", key, err)
	}
	return nil
}

// PutIfAbsent writes the value only when no file exists for key.
func (f *FileStorage) PutIfAbsent(_ context.Context, key string, value []byte) error {
	path, err := f.open(key)
	if err != nil {
		return err
	}
	defer f.mu.RUnlock()

	tmp, err := f.writeTemp(value, defaultFilePerms)
	if err != nil {
		return fmt.Errorf("file storage: failed to write key %q: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp) }()

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerms); err != nil {
		return fmt.Errorf("file storage: failed to create directory for key %q: %w", key, err)
	}
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("file storage: failed to create key %q: %w", key, err)
	}
	return nil
}

// Take moves the file out of the key space before reading it, so only one
// caller can ever observe a given value.
func (f *FileStorage) Take(_ context.Context, key string) ([]byte, error) {
	path, err := f.open(key)
	if err != nil {
		return nil, err
	}
	defer f.mu.RUnlock()

	claimed, err := f.tempName("take")
	if err != nil {
		return nil, err
	}
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: failed to take key %q: %w", key, err)
	}
	defer func() { _ = os.Remove(claimed) }()

	data, err := os.ReadFile(claimed)
	if err != nil {
		return nil, fmt.Errorf("file storage: failed to read key %q: %w", key, err)
	}
	return data, nil
}

// Delete removes the key and its value from storage.
func (f *FileStorage) Delete(_ context.Context, key string) error {
	path, err := f.open(key)
	if err != nil {
		return err
	}
	defer f.mu.RUnlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: failed to delete key %q: %w", key, err)
	}
	return nil
}

// DeleteIfEqual removes the file for key while it still holds expected. A
// mismatch seen before claiming leaves the file untouched; one seen after
// claiming is linked back unless a newer value was written meanwhile.
func (f *FileStorage) DeleteIfEqual(_ context.Context, key string, expected []byte) error {
	path, err := f.open(key)
	if err != nil {
		return err
	}
	defer f.mu.RUnlock()

	current, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: failed to read key %q: %w", key, err)
	}
	if !bytes.Equal(current, expected) {
		return storage.ErrConflict
	}

	claimed, err := f.tempName("cad")
	if err != nil {
		return err
	}
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: failed to delete key %q: %w", key, err)
	}
	defer func() { _ = os.Remove(claimed) }()

	data, err := os.ReadFile(claimed)
	if err != nil {
		return fmt.Errorf("file storage: failed to read key %q: %w", key, err)
	}
	if bytes.Equal(data, expected) {
		return nil
	}

	if err := os.Link(claimed, path); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("file storage: failed to restore key %q: %w", key, err)
	}
	return storage.ErrConflict
}

// List returns all keys with the given prefix in sorted order.
func (f *FileStorage) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(f.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != f.rootDir && d.Name() == tmpDir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(f.rootDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: failed to list keys: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (f *FileStorage) Exists(_ context.Context, key string) (bool, error) {
	path, err := f.open(key)
	if err != nil {
		return false, err
	}
	defer f.mu.RUnlock()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("file storage: failed to check key %q: %w", key, err)
	}
	return true, nil
}

// Ping verifies the root directory is still present.
func (f *FileStorage) Ping(_ context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return storage.ErrClosed
	}
	info, err := os.Stat(f.rootDir)
	if err != nil {
		return fmt.Errorf("file storage: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file storage: %s is not a directory", f.rootDir)
	}
	return nil
}

// Close marks the backend closed. Files are left in place.
func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// open validates key, takes the read lock and returns the file path.
// On success the caller must release f.mu.RUnlock.
func (f *FileStorage) open(key string) (string, error) {
	if err := validateStorageKey(key); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidKey, err)
	}

	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return "", storage.ErrClosed
	}
	return filepath.Join(f.rootDir, filepath.FromSlash(key)), nil
}

func (f *FileStorage) writeTemp(value []byte, perms fs.FileMode) (string, error) {
	name, err := f.tempName("put")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(name, value, perms); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func (f *FileStorage) tempName(kind string) (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("file storage: temp name: %w", err)
	}
	return filepath.Join(f.rootDir, tmpDir, kind+"-"+hex.EncodeToString(b[:])), nil
}

// validateStorageKey allows path separators for organization but blocks
// traversal and the reserved temp directory.
func validateStorageKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("key contains null byte")
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return fmt.Errorf("key cannot be an absolute path")
	}
	for _, part := range strings.Split(key, "/") {
		switch part {
		case "", ".", "..":
			return fmt.Errorf("key contains an empty or relative segment")
		case tmpDir:
			return fmt.Errorf("key uses reserved segment %q", tmpDir)
		}
	}
	return nil
}

func permissions(opts *storage.Options) fs.FileMode {
	if opts != nil && opts.Permissions != 0 {
		return opts.Permissions
	}
	return defaultFilePerms
}
