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

// Package blog implements the authenticated markdown upload path: a post is
// derived from an uploaded .md file (frontmatter, slug, excerpt, reading
// time), stored under posts/{id} and optionally archived to S3.
package blog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DateLayout is the format of Post.Date.
const DateLayout = "2006-01-02"

// Post is a stored blog post.
type Post struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	Tags        []string  `json:"tags"`
	Excerpt     string    `json:"excerpt"`
	Content     string    `json:"content"`
	ReadingTime string    `json:"readingTime"`
	WordCount   int       `json:"wordCount"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ArchiveKey  string    `json:"archiveKey,omitempty"`
}

// UploadRequest is the body of POST /blog-upload.
type UploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// UploadResponse is returned for a stored post.
type UploadResponse struct {
	Success bool  `json:"success"`
	Post    *Post `json:"post"`
}

// idGenerator produces lexicographically sortable ULIDs from a monotonic
// entropy source so ids minted in the same millisecond still order.
type idGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var (
	idOnce sync.Once
	ids    *idGenerator
)

// NewID returns a new ULID for t.
func NewID(t time.Time) string {
	idOnce.Do(func() {
		ids = &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
	})
	ids.mu.Lock()
	defer ids.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ids.entropy).String()
}
