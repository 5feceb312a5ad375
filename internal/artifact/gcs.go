// Package artifact hands out access to generated audio and removes it once
// retention expires.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore signs V4 GET URLs for objects in one bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewGCSStore connects to Cloud Storage. Without a credentials file the
// client falls back to application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string, ttl time.Duration, logger *slog.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("artifacts bucket is not configured")
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("no artifacts credentials file, relying on application default credentials")
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: bucket,
		ttl:    ttl,
		logger: logger.With("component", "artifacts", "bucket", bucket),
		now:    time.Now,
	}, nil
}

func (s *GCSStore) SignedURL(ctx context.Context, path string) (string, time.Time, error) {
	expires := s.now().Add(s.ttl)
	url, err := s.client.Bucket(s.bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %q: %w", path, err)
	}
	return url, expires, nil
}

// Delete removes an object. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		s.logger.Debug("artifact already gone", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
