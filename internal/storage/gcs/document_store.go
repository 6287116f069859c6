// Package gcs provides a document store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// DocumentStore writes documents to a configured GCS bucket.
type DocumentStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed document store.
func New(client *storage.Client, cfg Config) (*DocumentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &DocumentStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// CheckBucket fails fast when the bucket is missing or not accessible.
func (s *DocumentStore) CheckBucket(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("get GCS bucket %q attributes: %w", s.bucket, err)
	}
	return nil
}

func (s *DocumentStore) object(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Path returns the gs:// URI recorded for name.
func (s *DocumentStore) Path(name string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object(name))
}

// Put uploads data as a JSON object.
func (s *DocumentStore) Put(ctx context.Context, name string, data []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("document name is required")
	}
	writer := s.client.Bucket(s.bucket).Object(s.object(name)).NewWriter(ctx)
	writer.ContentType = "application/json; charset=utf-8"
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
