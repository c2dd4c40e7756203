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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passkeys/pkg/metrics"
	"github.com/jeremyhahn/go-passkeys/pkg/validation"
)

// DefaultMaxUploadBytes caps the markdown content of one upload.
const DefaultMaxUploadBytes = 1 << 20

// ErrInvalidUpload matches every UploadError.
var ErrInvalidUpload = errors.New("invalid upload")

// UploadError is a caller-facing validation failure.
type UploadError struct {
	Message string
}

func (e *UploadError) Error() string { return ErrInvalidUpload.Error() + ": " + e.Message }

// Is reports whether target is ErrInvalidUpload.
func (e *UploadError) Is(target error) bool { return target == ErrInvalidUpload }

func invalidUpload(message string) error {
	return &UploadError{Message: message}
}

// ServiceParams holds the dependencies of a Service.
type ServiceParams struct {
	Store          *PostStore
	Archiver       Archiver
	Logger         *slog.Logger
	MaxUploadBytes int
	Clock          func() time.Time
}

// Service turns uploads into stored posts.
type Service struct {
	store    *PostStore
	archiver Archiver
	logger   *slog.Logger
	maxBytes int
	now      func() time.Time
}

// NewService creates a Service. Archiver is optional.
func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("post store is required")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := params.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    params.Store,
		archiver: params.Archiver,
		logger:   logger,
		maxBytes: maxBytes,
		now:      now,
	}, nil
}

// Upload validates req, derives a Post authored by author and stores it.
// Validation failures are *UploadError; anything else is internal.
func (s *Service) Upload(ctx context.Context, author string, req *UploadRequest) (post *Post, err error) {
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		metrics.RecordUpload(status)
	}()

	if req == nil || req.Filename == "" || req.Content == "" {
		return nil, invalidUpload("Filename and content required")
	}
	if len(req.Content) > s.maxBytes {
		return nil, invalidUpload(fmt.Sprintf("Content exceeds %d bytes", s.maxBytes))
	}
	if err := validation.ValidateMarkdownFilename(req.Filename); err != nil {
		if strings.Contains(err.Error(), ".md") {
			return nil, invalidUpload("Only .md files are allowed")
		}
		return nil, invalidUpload("Invalid filename")
	}

	fm, body, err := ParseFrontmatter(req.Content)
	if err != nil {
		return nil, invalidUpload("Invalid frontmatter")
	}

	title := fm.Title
	if title == "" {
		title = strings.TrimSpace(req.Filename[:len(req.Filename)-len(".md")])
	}
	if title == "" {
		return nil, invalidUpload("Title is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, invalidUpload("Content is required")
	}

	now := s.now().UTC()
	post = &Post{
		ID:          NewID(now),
		Slug:        Slug(title),
		Title:       title,
		Date:        fm.Date,
		Tags:        []string(fm.Tags),
		Excerpt:     fm.Excerpt,
		Content:     body,
		ReadingTime: ReadingTime(body),
		WordCount:   WordCount(body),
		Author:      author,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if post.Date == "" {
		post.Date = now.Format(DateLayout)
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	if post.Excerpt == "" {
		post.Excerpt = Excerpt(body, DefaultExcerptLength)
	}

	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, post, []byte(req.Content))
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to archive post", "post_id", post.ID, "error", err)
		} else {
			post.ArchiveKey = key
		}
	}

	if err := s.store.Create(ctx, post); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "post uploaded",
		"post_id", post.ID,
		"slug", post.Slug,
		"author", validation.SanitizeForLog(author),
		"words", post.WordCount)
	return post, nil
}

// Get loads a stored post.
func (s *Service) Get(ctx context.Context, id string) (*Post, error) {
	return s.store.Get(ctx, id)
}
