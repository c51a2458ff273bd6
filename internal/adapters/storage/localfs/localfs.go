package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"transcoder/internal/ports"
)

// LocalFS implements ports.StorageProvider on a directory tree. Each bucket
// is a subdirectory of root.
type LocalFS struct {
	root   string
	bucket string
}

func New(root, bucket string) *LocalFS {
	return &LocalFS{root: root, bucket: bucket}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) Bucket() string { return l.bucket }

func (l *LocalFS) path(objectKey string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(objectKey))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("object_key is required")
	}
	return filepath.Join(l.root, l.bucket, strings.TrimPrefix(clean, string(filepath.Separator))), nil
}

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	n, err := io.Copy(f, in.Reader)
	if err != nil {
		_ = f.Close()
		return ports.PutObjectOutput{}, err
	}
	if err := f.Close(); err != nil {
		return ports.PutObjectOutput{}, err
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	p, err := l.path(objectKey)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}
	var size int64 = -1
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return f, size, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, objectKey string) error {
	p, err := l.path(objectKey)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Ping checks the bucket directory exists.
func (l *LocalFS) Ping(ctx context.Context) error {
	st, err := os.Stat(filepath.Join(l.root, l.bucket))
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", st.Name())
	}
	return nil
}
