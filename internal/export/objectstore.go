package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
)

// Uploader stores export artefacts.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// ObjectStore uploads exports to an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewObjectStore connects to endpoint and creates bucket if it does not
// exist.
func NewObjectStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool, logger *zap.Logger) (*ObjectStore, error) {
	logger = logging.OrNop(logger).Named("export")
	if !secure {
		logger.Warn("object storage is not using TLS", zap.String("endpoint", endpoint))
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{ObjectLocking: false}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		logger.Info("created export bucket", zap.String("bucket", bucket))
	}
	return &ObjectStore{client: client, bucket: bucket, logger: logger}, nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug("uploaded export", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int64("size", info.Size))
	return nil
}

// Ping checks the bucket is reachable.
func (s *ObjectStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	return nil
}
