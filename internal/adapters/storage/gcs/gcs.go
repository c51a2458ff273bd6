// Package gcs implements the storage port on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"transcoder/internal/ports"
)

type Bucket struct {
	client *storage.Client
	bucket string
}

// New wraps one bucket of a shared client. The caller owns client and
// closes it on shutdown.
func New(client *storage.Client, bucket string) *Bucket {
	return &Bucket{client: client, bucket: bucket}
}

func (b *Bucket) Provider() string { return "gcs" }

func (b *Bucket) Bucket() string { return b.bucket }

func (b *Bucket) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := b.client.Bucket(b.bucket).Object(in.ObjectKey).NewWriter(wctx)
	if in.ContentType != "" {
		w.ContentType = in.ContentType
	}
	n, err := upload(w, cancel, in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gcs %s: %w", in.ObjectKey, err)
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

// objectWriter is the part of *storage.Writer an upload drives.
type objectWriter interface {
	io.Writer
	Close() error
}

// upload copies r into w and finalizes it. On a copy error the writer's
// context is canceled before Close, which abandons the upload instead of
// committing a truncated object.
func upload(w objectWriter, cancel context.CancelFunc, r io.Reader) (int64, error) {
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return n, fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close: %w", err)
	}
	return n, nil
}

func (b *Bucket) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	r, err := b.client.Bucket(b.bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("gcs read %s: %w", objectKey, err)
	}
	return r, r.Attrs.Size, nil
}

func (b *Bucket) DeleteObject(ctx context.Context, objectKey string) error {
	return b.client.Bucket(b.bucket).Object(objectKey).Delete(ctx)
}

func (b *Bucket) Ping(ctx context.Context) error {
	_, err := b.client.Bucket(b.bucket).Attrs(ctx)
	return err
}
