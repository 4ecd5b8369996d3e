package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactSink stores a rendered export and returns where to fetch it.
type ArtifactSink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// LocalSink writes artifacts under Dir. The returned location is URLPrefix
// joined with the file name, or the file path when no prefix is set.
type LocalSink struct {
	Dir       string
	URLPrefix string
}

func (s LocalSink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	p := filepath.Join(s.Dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	if s.URLPrefix == "" {
		return p, nil
	}
	return strings.TrimRight(s.URLPrefix, "/") + "/" + filepath.Base(name), nil
}

// ObjectStore is the part of the S3 client the sink uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// S3Sink uploads artifacts and hands out presigned download URLs.
type S3Sink struct {
	store  ObjectStore
	bucket string
	prefix string
	ttl    time.Duration
}

func NewS3Sink(store ObjectStore, bucket, prefix string, ttl time.Duration) *S3Sink {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Sink{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/"), ttl: ttl}
}

func (s *S3Sink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := path.Join(s.prefix, name)
	if err := s.store.PutObject(ctx, s.bucket, key, contentType, data); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	url, err := s.store.PresignGet(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}
