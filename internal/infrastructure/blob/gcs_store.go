package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

// GCSStore keeps back office photo blobs in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

var _ ports.BlobStore = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, bucket string, credentialsFile string) (*GCSStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	opts := make([]option.ClientOption, 0, 1)
	if path := strings.TrimSpace(credentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(err, "create gcs client")
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return errs.Storage(err, "write gcs object")
	}
	if err := writer.Close(); err != nil {
		return errs.Storage(err, "close gcs object")
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("blob %q: %w", key, errs.ErrNotFound)
		}
		return nil, errs.Storage(err, "open gcs object")
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errs.Storage(err, "read gcs object")
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errs.Storage(err, "delete gcs object")
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
