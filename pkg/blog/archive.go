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
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver keeps a copy of the raw uploaded markdown.
type Archiver interface {
	// Archive stores raw for post and returns the object key.
	Archive(ctx context.Context, post *Post, raw []byte) (string, error)
}

// S3PutObjectAPI is the subset of the S3 client used by S3Archiver.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 archive.
type S3Config struct {
	Bucket          string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix" mapstructure:"prefix"`
	Region          string `yaml:"region" json:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-" mapstructure:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" json:"use_path_style" mapstructure:"use_path_style"`
}

// NewS3Client builds an S3 client. Static credentials are used when given,
// otherwise the default AWS credential chain. A custom endpoint selects an
// S3-compatible store such as MinIO.
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("s3 config is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Archiver writes raw markdown to {prefix}{slug}-{id}.md.
type S3Archiver struct {
	client S3PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver for bucket.
func NewS3Archiver(client S3PutObjectAPI, bucket, prefix string) (*S3Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// ObjectKey returns the archive key for post.
func (a *S3Archiver) ObjectKey(post *Post) string {
	name := post.Slug
	if name == "" {
		name = "post"
	}
	return fmt.Sprintf("%s%s-%s.md", a.prefix, name, post.ID)
}

// Archive implements Archiver.
func (a *S3Archiver) Archive(ctx context.Context, post *Post, raw []byte) (string, error) {
	key := a.ObjectKey(post)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("text/markdown; charset=utf-8"),
		Metadata: map[string]string{
			"author":  post.Author,
			"post-id": post.ID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive post %s: %w", post.ID, err)
	}
	return key, nil
}
