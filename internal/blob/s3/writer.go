package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// minPartSize is the smallest part S3 accepts for multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// defaultContentType matches the snapshot reports, which are always JSON.
const defaultContentType = "application/json"

// Writer implements domain.BlobWriter for report archival.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer uploading into the client's report bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// objectInput builds the upload input shared by both upload paths. Objects
// are tagged with the producing service so a shared bucket stays auditable,
// and marked no-store since every report supersedes the previous one.
func (w *Writer) objectInput(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	if contentType == "" {
		contentType = defaultContentType
	}
	return &s3.PutObjectInput{
		Bucket:       aws.String(w.bucket),
		Key:          aws.String(path),
		Body:         data,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("no-store"),
		Metadata: map[string]string{
			"producer": "moneymarket",
		},
	}
}

// Put uploads a report object in a single request. Snapshots are small, so
// this one-shot path is the normal one; use PutMultipart for bulk exports.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.objectInput(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams a large export through the SDK upload manager, which
// splits the payload into concurrently uploaded parts. A partSize below the
// S3 minimum is clamped to it.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	if _, err := uploader.Upload(ctx, w.objectInput(path, data, "")); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
