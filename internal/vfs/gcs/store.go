// Package gcs implements vfs.BlobStore over the Cloud Storage JSON API.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nousos/nous/internal/logging"
	"github.com/nousos/nous/internal/vfs"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// Config selects the bucket and credentials.
type Config struct {
	Bucket          string
	CredentialsFile string
	// Endpoint overrides the API base path and disables authentication,
	// for emulators.
	Endpoint string
}

// Store is a vfs.BlobStore backed by a Cloud Storage bucket.
type Store struct {
	svc    *storage.Service
	bucket string
	log    *logging.Logger
}

var _ vfs.BlobStore = (*Store)(nil)

// New connects to Cloud Storage.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	opts := []option.ClientOption{option.WithScopes(storage.DevstorageReadWriteScope)}
	switch {
	case cfg.Endpoint != "":
		opts = []option.ClientOption{option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication()}
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: creating service: %w", err)
	}

	log = log.Sub("gcs")
	log.Info().Str("bucket", cfg.Bucket).Msg("gcs blob store ready")
	return &Store{svc: svc, bucket: cfg.Bucket, log: log}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.svc.Objects.Get(s.bucket, key).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, vfs.ErrNotFound
		}
		return nil, fmt.Errorf("gcs: get %s: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	obj := &storage.Object{Name: key, ContentType: contentType}
	_, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("gcs: put %s: %w", key, err)
	}
	s.log.Trace().Str("key", key).Int("bytes", len(data)).Msg("object written")
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.svc.Objects.List(s.bucket).Prefix(prefix).Context(ctx).
		Pages(ctx, func(page *storage.Objects) error {
			for _, o := range page.Items {
				keys = append(keys, o.Name)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("gcs: list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.svc.Objects.Delete(s.bucket, key).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("gcs: delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
