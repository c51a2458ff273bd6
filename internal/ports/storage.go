package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	// Size is -1 when unknown.
	Size int64
}

type PutObjectOutput struct {
	// ObjectKey is the key the provider stored the object under. Providers
	// that assign their own identifiers (gdrive) return that identifier.
	ObjectKey string
	Size      int64
}

// StorageProvider is one bucket of object storage. The worker holds two: the
// source bucket it reads uploads from and the destination bucket renditions
// are published to.
type StorageProvider interface {
	Provider() string
	Bucket() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// Pinger is implemented by providers that can check their backend is
// reachable; used by the deep health check.
type Pinger interface {
	Ping(ctx context.Context) error
}
