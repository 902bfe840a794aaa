package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStore holds large snapshot payloads outside the event log's row
// storage, per spec.md §4.10 ("serialize the full State ... into a
// Snapshot"). Two concrete backends are wired from the dependency set; a
// SQL-column blob (Snapshot.Blob in eventlog.go) remains the default for the demo
// and tests, since tests must not require live cloud credentials.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3BlobStore stores snapshot blobs in an S3 bucket.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

// NewS3BlobStore wraps an already-configured s3.Client.
func NewS3BlobStore(client *s3.Client, bucket string) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket}
}

func (b *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 blob store put %q: %w", key, err)
	}
	return nil
}

func (b *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 blob store get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// GCSBlobStore stores snapshot blobs in a Google Cloud Storage bucket, for
// deployments that standardize on GCP instead of AWS.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore wraps an already-configured storage.Client.
func NewGCSBlobStore(client *storage.Client, bucket string) *GCSBlobStore {
	return &GCSBlobStore{client: client, bucket: bucket}
}

func (b *GCSBlobStore) Put(ctx context.Context, key string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs blob store put %q: %w", key, err)
	}
	return w.Close()
}

func (b *GCSBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs blob store get %q: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
