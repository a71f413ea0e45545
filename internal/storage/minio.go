// Package storage uploads message attachments to S3-compatible object
// storage before the message referencing them is sent.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dkraev/chatsync/internal/models"
)

// MaxAttachmentSize caps a single upload at 25 MiB.
const MaxAttachmentSize = 25 << 20

// ErrTooLarge is returned for uploads over MaxAttachmentSize.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Uploader wraps a MinIO client with bucket-scoped attachment operations.
type Uploader struct {
	client   *minio.Client
	bucket   string
	endpoint string
}

// NewUploader creates an Uploader and ensures the bucket exists.
func NewUploader(endpoint, accessKey, secretKey, bucket string) (*Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}

	return &Uploader{
		client:   client,
		bucket:   bucket,
		endpoint: endpoint,
	}, nil
}

// Upload stores an attachment under a random key and returns the metadata
// that goes onto the message. The original filename survives only in the
// returned Attachment; object keys never carry user input.
func (u *Uploader) Upload(ctx context.Context, filename, contentType string, size int64, reader io.Reader) (*models.Attachment, error) {
	if size > MaxAttachmentSize {
		return nil, ErrTooLarge
	}

	key := uuid.NewString() + path.Ext(filename)
	_, err := u.client.PutObject(ctx, u.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("minio put: %w", err)
	}

	return &models.Attachment{
		URL:         u.objectURL(key),
		Filename:    filename,
		Size:        size,
		ContentType: contentType,
	}, nil
}

// Delete removes an uploaded attachment object.
func (u *Uploader) Delete(ctx context.Context, key string) error {
	return u.client.RemoveObject(ctx, u.bucket, key, minio.RemoveObjectOptions{})
}

func (u *Uploader) objectURL(key string) string {
	return fmt.Sprintf("http://%s/%s/%s", u.endpoint, u.bucket, key)
}
