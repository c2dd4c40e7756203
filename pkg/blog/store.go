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

package blog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-passkeys/pkg/storage"
)

// ErrPostNotFound is returned when no post has the requested id.
var ErrPostNotFound = errors.New("post not found")

// PostStore persists posts as JSON documents under posts/{id}.
type PostStore struct {
	backend storage.Backend
}

// NewPostStore creates a PostStore over backend.
func NewPostStore(backend storage.Backend) *PostStore {
	return &PostStore{backend: backend}
}

// Create stores a new post. Ids are never reused.
func (s *PostStore) Create(ctx context.Context, post *Post) error {
	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("failed to encode post: %w", err)
	}
	if err := s.backend.PutIfAbsent(ctx, storage.PostKey(post.ID), data); err != nil {
		return fmt.Errorf("failed to store post %s: %w", post.ID, err)
	}
	return nil
}

// Get loads a post by id.
func (s *PostStore) Get(ctx context.Context, id string) (*Post, error) {
	data, err := s.backend.Get(ctx, storage.PostKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", id, err)
	}
	var post Post
	if err := json.Unmarshal(data, &post); err != nil {
		return nil, fmt.Errorf("failed to decode post %s: %w", id, err)
	}
	return &post, nil
}

// List returns post ids in creation order.
func (s *PostStore) List(ctx context.Context) ([]string, error) {
	return storage.ListIDs(ctx, s.backend, storage.PostsCollection)
}
