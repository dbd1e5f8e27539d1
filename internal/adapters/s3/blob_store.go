package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// maxPresignExpiry is the longest expiry SigV4 accepts.
const maxPresignExpiry = 7 * 24 * time.Hour

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// Expiry is the retention window; presigned URLs and the bucket
	// lifecycle rule both follow it.
	Expiry time.Duration
}

// BlobStore uploads results to an S3-compatible bucket and returns presigned
// GET URLs.
type BlobStore struct {
	client *minio.Client
	logger *slog.Logger
	bucket string
	region string
	expiry time.Duration
}

func NewBlobStore(logger *slog.Logger, cfg Config) (*BlobStore, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &BlobStore{
		client: client,
		logger: logger,
		bucket: cfg.Bucket,
		region: cfg.Region,
		expiry: clampExpiry(cfg.Expiry),
	}, nil
}

var _ ports.BlobStore = (*BlobStore)(nil)

// EnsureBucket creates the bucket when missing and installs an expiration
// rule matching the retention window. Backends without lifecycle support
// only get a warning.
func (s *BlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("created bucket", "bucket", s.bucket)
	}

	rules := lifecycle.NewConfiguration()
	rules.Rules = []lifecycle.Rule{{
		ID:         "pdfmill-expire-results",
		Status:     "Enabled",
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(expirationDays(s.expiry))},
	}}
	if err := s.client.SetBucketLifecycle(ctx, s.bucket, rules); err != nil {
		s.logger.Warn("failed to set bucket lifecycle", "bucket", s.bucket, "error", err)
	}
	return nil
}

func (s *BlobStore) Store(ctx context.Context, key, filename, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = domain.MimeOctetStream
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.presign(ctx, key, filename)
}

func (s *BlobStore) presign(ctx context.Context, key, filename string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", domain.ContentDisposition(filename))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

func splitEndpoint(endpoint string) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid s3 endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid s3 endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

func clampExpiry(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return time.Hour
	case d > maxPresignExpiry:
		return maxPresignExpiry
	}
	return d.Truncate(time.Second)
}

func expirationDays(d time.Duration) int {
	days := int(math.Ceil(d.Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
