package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/s3utils"
)

// ObjectClient is the subset of the S3 API the object-store backend needs.
type ObjectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	StatObject(ctx context.Context, bucket, key string) (etag string, err error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// MinioStorage implements Backend using a MinIO (or any S3-compatible) server.
// To switch providers, change STORAGE_ENDPOINT and credentials; no code changes
// are needed.
type MinioStorage struct {
	client ObjectClient
	bucket string
	logger *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewMinioStorage creates a MinIO client for bucket. The bucket itself is
// created lazily on first write.
func NewMinioStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *slog.Logger) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewMinioStorageWithClient(&minioClient{c: client}, bucket, logger)
}

// NewMinioStorageWithClient wraps an existing ObjectClient.
func NewMinioStorageWithClient(client ObjectClient, bucket string, logger *slog.Logger) (*MinioStorage, error) {
	if err := s3utils.CheckValidBucketNameStrict(bucket); err != nil {
		return nil, fmt.Errorf("bucket %q: %w", bucket, err)
	}
	return &MinioStorage{
		client: client,
		bucket: bucket,
		logger: logger.With(slog.String("component", "minio_storage")),
	}, nil
}

// Mode implements Backend.
func (s *MinioStorage) Mode() Mode { return ModeObjectStore }

// Write streams r to the bucket under obj.Key(). obj.Size must be the exact byte
// count (pass -1 only if the size is genuinely unknown; MinIO will buffer it).
// The ETag reported by the server is returned unchanged.
func (s *MinioStorage) Write(ctx context.Context, obj Object, r io.Reader) (Result, error) {
	key := obj.Key()

	if err := s.ensureBucket(ctx); err != nil {
		return Result{}, &WriteError{Key: key, Err: err}
	}

	s.logger.Debug("put object", slog.String("bucket", s.bucket), slog.String("key", key), slog.Int64("size", obj.Size))

	if err := s.client.PutObject(ctx, s.bucket, key, r, obj.Size, obj.ContentType); err != nil {
		return Result{}, &WriteError{Key: key, Err: fmt.Errorf("put object: %w", err)}
	}

	etag, err := s.client.StatObject(ctx, s.bucket, key)
	if err != nil {
		return Result{}, &WriteError{Key: key, Err: fmt.Errorf("stat object: %w", err)}
	}

	return Result{
		Location: Location{Bucket: s.bucket, Path: key},
		ETag:     etag,
	}, nil
}

// Read opens the object at loc. A missing bucket or key yields ErrNotFound.
func (s *MinioStorage) Read(ctx context.Context, loc Location) (io.ReadCloser, error) {
	bucket := loc.Bucket
	if bucket == "" {
		bucket = s.bucket
	}

	rc, err := s.client.GetObject(ctx, bucket, loc.Path)
	if err != nil {
		if isNoSuchObject(err) {
			return nil, &ReadError{Path: loc.Path, Err: ErrNotFound}
		}
		return nil, &ReadError{Path: loc.Path, Err: err}
	}
	return rc, nil
}

// ensureBucket creates the bucket if it does not exist yet. Safe to call concurrently.
func (s *MinioStorage) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket); err != nil && !isBucketOwned(err) {
			return fmt.Errorf("create bucket %q: %w", s.bucket, err)
		}
		s.logger.Info("created bucket", slog.String("bucket", s.bucket))
	}

	s.ensured = true
	return nil
}

func isNoSuchObject(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func isBucketOwned(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	}
	return false
}

// minioClient adapts *minio.Client to ObjectClient.
type minioClient struct {
	c *minio.Client
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.c.BucketExists(ctx, bucket)
}

func (m *minioClient) MakeBucket(ctx context.Context, bucket string) error {
	return m.c.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

func (m *minioClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.c.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (m *minioClient) StatObject(ctx context.Context, bucket, key string) (string, error) {
	info, err := m.c.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return "", err
	}
	return info.ETag, nil
}

// GetObject stats the object before returning it so a missing key fails here
// instead of on the first Read.
func (m *minioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}
