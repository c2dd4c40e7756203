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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/jeremyhahn/go-passkeys/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "passkeys.db"))
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return newTestStore(t)
	})
}

func TestStore_MigrationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	assert.NoError(t, s.ApplyMigrations())
}

func TestStore_ListIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Put(ctx, "users/a", []byte("x"), nil))
	require.NoError(t, s.Put(ctx, "USERS/b", []byte("x"), nil))
	require.NoError(t, s.Put(ctx, "users_c", []byte("x"), nil))

	keys, err := s.List(ctx, "users/")
	require.NoError(t, err)
	assert.Equal(t, []string{"users/a"}, keys)
}

func TestNew_EmptyDSN(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}
