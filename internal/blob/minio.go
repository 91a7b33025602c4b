// Package blob archives raw content payloads in object storage, addressed by
// content hash. Identical payloads collapse to a single object, so the
// archive deduplicates for free.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Archive struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Archive{client: client, bucket: bucket}, nil
}

// Put stores the payload under its content hash. Re-putting an existing hash
// is a cheap no-op.
func (a *Archive) Put(ctx context.Context, contentHash, content string) error {
	if contentHash == "" {
		return errors.New("put blob: content hash required")
	}

	if _, err := a.client.StatObject(ctx, a.bucket, objectName(contentHash), minio.StatObjectOptions{}); err == nil {
		return nil
	}

	reader := strings.NewReader(content)
	_, err := a.client.PutObject(ctx, a.bucket, objectName(contentHash), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", contentHash, err)
	}
	return nil
}

// Get retrieves a payload by content hash.
func (a *Archive) Get(ctx context.Context, contentHash string) (string, error) {
	object, err := a.client.GetObject(ctx, a.bucket, objectName(contentHash), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get blob %s: %w", contentHash, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", contentHash, err)
	}
	return string(data), nil
}

// objectName shards objects by the first two hash bytes, keeping bucket
// listings manageable.
func objectName(contentHash string) string {
	if len(contentHash) < 2 {
		return "content/" + contentHash
	}
	return "content/" + contentHash[:2] + "/" + contentHash
}
