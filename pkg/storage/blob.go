// Package storage uploads avatar images to an S3-compatible bucket
// (Supabase Storage) and normalizes them before upload.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/craftscribe/craftscribe/pkg/config"
)

// s3API is the slice of the S3 client the blob store needs; narrowed so
// tests can substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BlobStore writes public objects to one bucket.
type BlobStore struct {
	api        s3API
	bucket     string
	publicBase string
}

// NewBlobStore builds a store against the configured S3-compatible
// endpoint using static credentials and path-style addressing, which is
// what Supabase Storage expects.
func NewBlobStore(ctx context.Context, cfg *config.Config) (*BlobStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading storage credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
		o.UsePathStyle = true
	})

	return &BlobStore{
		api:        client,
		bucket:     cfg.Storage.Bucket,
		publicBase: strings.TrimRight(cfg.Storage.PublicBaseURL, "/"),
	}, nil
}

// NewBlobStoreWithAPI wires an explicit API implementation; used by tests.
func NewBlobStoreWithAPI(api s3API, bucket, publicBase string) *BlobStore {
	return &BlobStore{
		api:        api,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// Put uploads the object and returns its public URL.
func (b *BlobStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return b.publicBase + "/" + key, nil
}

// Delete removes the object.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// KeyFromURL maps a public URL produced by Put back to its object key.
func (b *BlobStore) KeyFromURL(url string) string {
	return strings.TrimPrefix(strings.TrimPrefix(url, b.publicBase), "/")
}
