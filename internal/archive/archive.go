package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Options configures the object store submissions are archived to
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Store archives raw submission payloads under content-derived keys, so the
// same body always lands on the same object.
type Store struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewStore creates a MinIO-backed archive and makes sure the bucket exists on start
func NewStore(lc fx.Lifecycle, logger *zap.Logger, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("[ARCHIVE] failed to create object storage client: %w", err)
	}

	s := &Store{client: client, bucket: opts.Bucket, logger: logger}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			exists, err := client.BucketExists(ctx, opts.Bucket)
			if err != nil {
				return fmt.Errorf("[ARCHIVE] failed to check bucket %s: %w", opts.Bucket, err)
			}
			if !exists {
				if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
					return fmt.Errorf("[ARCHIVE] failed to create bucket %s: %w", opts.Bucket, err)
				}
				logger.Info("archive bucket created", zap.String("bucket", opts.Bucket))
			}
			logger.Info("archive ready", zap.String("endpoint", opts.Endpoint), zap.String("bucket", opts.Bucket))
			return nil
		},
	})

	return s, nil
}

// ContentKey returns the object key a body is archived under
func ContentKey(projectID string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("submissions/%s/%s.json", projectID, hex.EncodeToString(sum[:]))
}

// Archive stores body and returns its key
func (s *Store) Archive(ctx context.Context, projectID string, body []byte) (string, error) {
	key := ContentKey(projectID, body)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	s.logger.Debug("submission archived", zap.String("key", key), zap.Int("size", len(body)))
	return key, nil
}

// Fetch reads an archived body back
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return body, nil
}
