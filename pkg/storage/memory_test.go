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

package storage_test

import (
	"context"
	"testing"

	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/jeremyhahn/go-passkeys/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return storage.NewMemory()
	})
}

func TestMemoryBackend_Closed(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, b.Put(ctx, "k", nil, nil), storage.ErrClosed)
	assert.ErrorIs(t, b.PutIfAbsent(ctx, "k", nil), storage.ErrClosed)
	_, err = b.Take(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, b.Ping(ctx), storage.ErrClosed)
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	defer func() { _ = b.Close() }()

	value := []byte("original")
	require.NoError(t, b.Put(ctx, "k", value, nil))
	value[0] = 'X'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "users/a@x.com", storage.UserKey("a@x.com"))
	assert.Equal(t, "challenges/a%2Fb@x.com", storage.ChallengeKey("a/b@x.com"))
	assert.Equal(t, "posts/01J0", storage.PostKey("01J0"))
}
