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

import (
	"context"
	"net/url"
	"strings"
)

// Collection prefixes. Every document lives under exactly one of these.
const (
	UsersCollection      = "users/"
	ChallengesCollection = "challenges/"
	PostsCollection      = "posts/"
)

// UserKey returns the storage path for the user document of the given email.
// The path follows the convention: users/{escaped email}
func UserKey(email string) string {
	return UsersCollection + url.PathEscape(email)
}

// ChallengeKey returns the storage path for the pending challenge of the given email.
// The path follows the convention: challenges/{escaped email}
func ChallengeKey(email string) string {
	return ChallengesCollection + url.PathEscape(email)
}

// PostKey returns the storage path for a blog post.
func PostKey(id string) string {
	return PostsCollection + url.PathEscape(id)
}

// ListIDs returns the unescaped document IDs stored under collection.
// Keys that do not decode are skipped.
func ListIDs(ctx context.Context, backend Backend, collection string) ([]string, error) {
	keys, err := backend.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id, err := url.PathUnescape(strings.TrimPrefix(k, collection))
		if err != nil || id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
