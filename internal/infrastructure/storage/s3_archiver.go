// Package storage archives raw vendor pages to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
	infraconfig "github.com/facolos/etl/internal/infrastructure/config"
)

// Ensure S3Archiver implements PageArchiver
var _ pipeline.PageArchiver = (*S3Archiver)(nil)

// S3Archiver writes every raw page as one JSON object.
// It is compatible with any S3-compatible storage (AWS S3, RustFS, MinIO, etc.)
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3ArchiverOption is a functional option for configuring S3Archiver
type S3ArchiverOption func(*S3Archiver)

// WithLogger sets a custom logger for S3Archiver
func WithLogger(logger *zap.Logger) S3ArchiverOption {
	return func(s *S3Archiver) {
		s.logger = logger
	}
}

// NewS3Archiver creates a new S3Archiver from configuration.
func NewS3Archiver(cfg *infraconfig.StorageConfig, opts ...S3ArchiverOption) (*S3Archiver, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}

	// Validate required configuration
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	// Build endpoint URL
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}

	// Ensure endpoint has protocol
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid storage endpoint: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"", // session token (not used for static credentials)
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	archiver := &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(archiver)
	}

	return archiver, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during application startup to ensure the bucket is ready.
func (s *S3Archiver) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating archive bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		// Ignore "BucketAlreadyOwnedByYou" error (race condition)
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ObjectKey returns the key of one archived page:
// {prefix}/raw/{source}/{batch}/{page:05d}.json
func (s *S3Archiver) ObjectKey(sourceID, batchID string, pageNo int) string {
	return path.Join(s.prefix, "raw", sourceID, batchID, fmt.Sprintf("%05d.json", pageNo))
}

// ArchivePage stores the page records as a JSON array. Upload failures are
// transient so the orchestrator retries them.
func (s *S3Archiver) ArchivePage(ctx context.Context, sourceID, batchID string, pageNo int, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return pipeline.NewFatalError("archive.page", "SCHEMA_MISMATCH",
			fmt.Errorf("%w: page %d is not valid JSON: %v", pipeline.ErrSchemaMismatch, pageNo, err))
	}

	key := s.ObjectKey(sourceID, batchID, pageNo)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return pipeline.NewTransientError("archive.page", "ARCHIVE_FAILED",
			fmt.Errorf("failed to upload %s: %w", key, err))
	}

	s.logger.Debug("Raw page archived",
		zap.String("key", key),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(body)),
	)
	return nil
}

// GetBucket returns the bucket name
func (s *S3Archiver) GetBucket() string {
	return s.bucket
}
