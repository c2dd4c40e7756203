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

package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/jeremyhahn/go-passkeys/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		store, err := New(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestNew(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "subdir", "nested")

		store, err := New(dir)
		require.NoError(t, err)
		require.NotNil(t, store)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	})

	t.Run("empty directory error", func(t *testing.T) {
		_, err := New("")
		assert.Error(t, err)
	})
}

func TestValidateStorageKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"simple", "users/a@x.com", false},
		{"nested", "a/b/c", false},
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../secret", true},
		{"middle traversal", "users/../../secret", true},
		{"dot segment", "users/./a", true},
		{"double slash", "users//a", true},
		{"null byte", "users/a\x00b", true},
		{"reserved", ".tmp/put-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStorageKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileStorage_InvalidKey(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../escape", []byte("x"), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestFileStorage_Permissions(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "users/a", []byte("x"), nil))
	require.NoError(t, store.Put(ctx, "posts/b", []byte("x"), &storage.Options{Permissions: 0640}))

	info, err := os.Stat(filepath.Join(dir, "users", "a"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dir, "posts", "b"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestFileStorage_TempFilesNotListed(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "challenges/a", []byte("c"), nil))
	_, err = store.Take(ctx, "challenges/a")
	require.NoError(t, err)

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	leftovers, err := os.ReadDir(filepath.Join(dir, tmpDir))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStorage_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, first.PutIfAbsent(ctx, "users/a", []byte("persisted")))
	require.NoError(t, first.Close())

	_, err = first.Get(ctx, "users/a")
	assert.ErrorIs(t, err, storage.ErrClosed)

	second, err := New(dir)
	require.NoError(t, err)
	got, err := second.Get(ctx, "users/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}
