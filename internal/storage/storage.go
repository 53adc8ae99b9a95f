package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
)

// maxObjectSize caps a single uploaded document read into memory.
const maxObjectSize = 64 << 20

// FileStorage reads uploaded documents by storage key.
type FileStorage interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Storage serves documents from a single bucket.
type S3Storage struct {
	client objectGetter
	bucket string
}

// NewS3Storage loads the default AWS configuration for region. A non-empty endpoint
// targets an S3 compatible store such as MinIO or LocalStack.
func NewS3Storage(ctx context.Context, region string, bucket string, endpoint string) (*S3Storage, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Storage(client, bucket), nil
}

func newS3Storage(client objectGetter, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: object %q", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	if len(body) > maxObjectSize {
		return nil, fmt.Errorf("%w: object %q exceeds %d bytes", domain.ErrValidation, key, maxObjectSize)
	}
	return body, nil
}
