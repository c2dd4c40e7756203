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

// Package storagetest holds the behavioural suite every storage.Backend
// driver must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Backend

// Run exercises the full Backend contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"PutGet", testPutGet},
		{"GetNotFound", testGetNotFound},
		{"Overwrite", testOverwrite},
		{"PutIfAbsent", testPutIfAbsent},
		{"PutIfAbsentConcurrent", testPutIfAbsentConcurrent},
		{"Take", testTake},
		{"TakeConcurrent", testTakeConcurrent},
		{"DeleteIfEqual", testDeleteIfEqual},
		{"DeleteIfEqualAfterOverwrite", testDeleteIfEqualAfterOverwrite},
		{"Delete", testDelete},
		{"ListPrefix", testListPrefix},
		{"Exists", testExists},
		{"EscapedKeys", testEscapedKeys},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tt.fn(t, b)
		})
	}
}

func testPutGet(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	values := map[string][]byte{
		"simple":            []byte("value"),
		"nested/deep/key":   []byte(`{"a":1}`),
		"binary":            {0x00, 0x01, 0xfe, 0xff},
		"users/a%40x.com":   []byte("user"),
		"challenges/b.json": []byte("challenge"),
	}
	for k, v := range values {
		require.NoError(t, b.Put(ctx, k, v, nil), k)
	}
	for k, v := range values {
		got, err := b.Get(ctx, k)
		require.NoError(t, err, k)
		assert.Equal(t, v, got, k)
	}
}

func testGetNotFound(t *testing.T, b storage.Backend) {
	_, err := b.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testOverwrite(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "k", []byte("one"), nil))
	require.NoError(t, b.Put(ctx, "k", []byte("two"), nil))

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func testPutIfAbsent(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.PutIfAbsent(ctx, "users/one", []byte("first")))

	err := b.PutIfAbsent(ctx, "users/one", []byte("second"))
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	got, err := b.Get(ctx, "users/one")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func testPutIfAbsentConcurrent(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	const workers = 16

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := b.PutIfAbsent(ctx, "users/dup", []byte(fmt.Sprintf("writer-%d", i)))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, storage.ErrAlreadyExists):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func testTake(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "challenges/a", []byte("c1"), nil))

	got, err := b.Take(ctx, "challenges/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("c1"), got)

	_, err = b.Take(ctx, "challenges/a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := b.Exists(ctx, "challenges/a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testTakeConcurrent(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "challenges/race", []byte("once"), nil))

	const workers = 16
	var (
		wg    sync.WaitGroup
		taken atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := b.Take(ctx, "challenges/race")
			if err == nil {
				assert.Equal(t, []byte("once"), v)
				taken.Add(1)
				return
			}
			assert.ErrorIs(t, err, storage.ErrNotFound)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), taken.Load())
}

func testDeleteIfEqual(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "challenges/a", []byte("c1"), nil))

	err := b.DeleteIfEqual(ctx, "challenges/a", []byte("other"))
	assert.ErrorIs(t, err, storage.ErrConflict)
	got, err := b.Get(ctx, "challenges/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("c1"), got)

	require.NoError(t, b.DeleteIfEqual(ctx, "challenges/a", []byte("c1")))
	exists, err := b.Exists(ctx, "challenges/a")
	require.NoError(t, err)
	assert.False(t, exists)

	err = b.DeleteIfEqual(ctx, "challenges/a", []byte("c1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// A reader that saw an old value must not remove the value written after it.
func testDeleteIfEqualAfterOverwrite(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "challenges/b", []byte("stale"), nil))

	seen, err := b.Get(ctx, "challenges/b")
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "challenges/b", []byte("fresh"), nil))

	err = b.DeleteIfEqual(ctx, "challenges/b", seen)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := b.Take(ctx, "challenges/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}

func testDelete(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "k", []byte("v"), nil))
	require.NoError(t, b.Delete(ctx, "k"))
	assert.ErrorIs(t, b.Delete(ctx, "k"), storage.ErrNotFound)
}

func testListPrefix(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	for _, k := range []string{"users/b", "users/a", "posts/1", "challenges/a"} {
		require.NoError(t, b.Put(ctx, k, []byte("x"), nil))
	}

	users, err := b.List(ctx, "users/")
	require.NoError(t, err)
	assert.Equal(t, []string{"users/a", "users/b"}, users)

	all, err := b.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := b.List(ctx, "nothing/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testExists(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	ok, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Put(ctx, "k", []byte("v"), nil))
	ok, err = b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testEscapedKeys(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	emails := []string{"a@x.com", "first.last+tag@example.org"}
	for _, e := range emails {
		require.NoError(t, b.Put(ctx, storage.UserKey(e), []byte(e), nil))
	}

	ids, err := storage.ListIDs(ctx, b, storage.UsersCollection)
	require.NoError(t, err)
	assert.ElementsMatch(t, emails, ids)
}

func testPing(t *testing.T, b storage.Backend) {
	assert.NoError(t, b.Ping(context.Background()))
}
