package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kursadbilgin/docflow-engine/internal/domain"
)

type fakeObjectGetter struct {
	getObjectFn func(ctx context.Context, params *s3.GetObjectInput) (*s3.GetObjectOutput, error)
}

func (f *fakeObjectGetter) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getObjectFn(ctx, params)
}

func TestS3StorageGet(t *testing.T) {
	t.Parallel()

	var gotBucket, gotKey string
	store := newS3Storage(&fakeObjectGetter{
		getObjectFn: func(_ context.Context, params *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			gotBucket = aws.ToString(params.Bucket)
			gotKey = aws.ToString(params.Key)
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("%PDF-1.7"))}, nil
		},
	}, "uploads")

	body, err := store.Get(context.Background(), "batches/b1/invoice.pdf")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "%PDF-1.7" {
		t.Fatalf("Get() = %q", body)
	}
	if gotBucket != "uploads" || gotKey != "batches/b1/invoice.pdf" {
		t.Fatalf("GetObject called with bucket=%q key=%q", gotBucket, gotKey)
	}
}

func TestS3StorageGetMissingObject(t *testing.T) {
	t.Parallel()

	store := newS3Storage(&fakeObjectGetter{
		getObjectFn: func(context.Context, *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, &types.NoSuchKey{Message: aws.String("missing")}
		},
	}, "uploads")

	_, err := store.Get(context.Background(), "missing.pdf")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestS3StorageGetFailure(t *testing.T) {
	t.Parallel()

	store := newS3Storage(&fakeObjectGetter{
		getObjectFn: func(context.Context, *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, errors.New("connection reset")
		},
	}, "uploads")

	_, err := store.Get(context.Background(), "a.pdf")
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want wrapped transport error", err)
	}
}
