package cleanup

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/SS8816/rulequery/internal/config"
	apperrors "github.com/SS8816/rulequery/internal/errors"
)

// ObjectStore removes the result objects behind a cache entry's storage
// location.
type ObjectStore interface {
	RemoveLocation(ctx context.Context, location string) (int, error)
}

// objectClient is the subset of *minio.Client the store needs. Tests supply
// a fake.
type objectClient interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// MinioStore deletes Athena result objects through the S3 API.
type MinioStore struct {
	client objectClient
}

// NewMinioStore connects to the endpoint in cfg.
func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, apperrors.New(apperrors.ErrTypeConfig, "storage endpoint is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeStorage, "failed to create storage client")
	}

	return &MinioStore{client: client}, nil
}

// NewMinioStoreWithClient wires a pre-built client. Used in tests.
func NewMinioStoreWithClient(client objectClient) *MinioStore {
	return &MinioStore{client: client}
}

// RemoveLocation deletes every object sharing the location's execution
// prefix. Athena writes the result file plus a .metadata sibling, so the
// listing prefix is the location with its extension stripped.
func (s *MinioStore) RemoveLocation(ctx context.Context, location string) (int, error) {
	bucket, key, err := parseObjectURI(location)
	if err != nil {
		return 0, err
	}

	prefix := strings.TrimSuffix(key, ".csv")
	removed := 0

	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return removed, apperrors.Wrapf(obj.Err, apperrors.ErrTypeStorage, "failed to list objects under %s", location)
		}

		if err := s.client.RemoveObject(ctx, bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, apperrors.Wrapf(err, apperrors.ErrTypeStorage, "failed to remove object %s", obj.Key)
		}

		removed++
	}

	return removed, nil
}

// parseObjectURI splits an s3://bucket/key location into its parts.
func parseObjectURI(location string) (bucket, key string, err error) {
	const scheme = "s3://"

	if !strings.HasPrefix(location, scheme) {
		return "", "", apperrors.New(apperrors.ErrTypeStorage, fmt.Sprintf("unsupported storage location %q", location))
	}

	rest := strings.TrimPrefix(location, scheme)

	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", apperrors.New(apperrors.ErrTypeStorage, fmt.Sprintf("storage location %q has no object key", location))
	}

	return bucket, key, nil
}
