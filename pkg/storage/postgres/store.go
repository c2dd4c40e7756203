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

// Package postgres implements storage.Backend on PostgreSQL through the pgx
// database/sql driver. Schema changes are applied with goose from embedded
// migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jeremyhahn/go-passkeys/pkg/storage"
	"github.com/jeremyhahn/go-passkeys/pkg/storage/postgres/migrations"
	"github.com/pressly/goose/v3"
)

// Store is a PostgreSQL-backed storage.Backend.
type Store struct {
	db *sql.DB
}

// New connects to dsn, verifies the connection and runs migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres storage: dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres storage: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres storage: migrate: %w", err)
	}
	return s, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, s.db, ".")
}

// Get retrieves the value for the given key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return nil, mapError(err)
	}
	return value, nil
}

// Put inserts or replaces the value for the given key.
func (s *Store) Put(ctx context.Context, key string, value []byte, _ *storage.Options) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, nonNil(value))
	return mapError(err)
}

// PutIfAbsent inserts the value unless a row already exists for key.
func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, nonNil(value))
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres storage: %w", err)
	}
	if n == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

// Take deletes the row for key and returns the value it held. Concurrent
// deletes of the same row serialise on the row lock, so only one sees it.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM documents WHERE key = $1 RETURNING value`, key).Scan(&value)
	if err != nil {
		return nil, mapError(err)
	}
	return value, nil
}

// Delete removes the row for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = $1`, key)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres storage: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteIfEqual deletes the row for key only while it holds expected.
func (s *Store) DeleteIfEqual(ctx context.Context, key string, expected []byte) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE key = $1 AND value = $2`, key, nonNil(expected))
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres storage: %w", err)
	}
	if n > 0 {
		return nil
	}
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrConflict
	}
	return storage.ErrNotFound
}

// List returns the keys starting with prefix in byte order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM documents WHERE key LIKE $1 ESCAPE '\' ORDER BY key COLLATE "C"`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, mapError(err)
		}
		keys = append(keys, k)
	}
	return keys, mapError(rows.Err())
}

// Exists checks if a row exists for key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	case errors.Is(err, sql.ErrConnDone), strings.Contains(err.Error(), "database is closed"):
		return storage.ErrClosed
	}
	return fmt.Errorf("postgres storage: %w", err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
