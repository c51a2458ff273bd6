package gdrive

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"transcoder/internal/ports"
)

// Client implements ports.StorageProvider on a Google Drive folder. Drive
// has no key namespace, so uploads are named with the full object key and
// reads take a Drive file id as the key.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) Bucket() string { return c.folderID }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}

	file := &drive.File{Name: in.ObjectKey}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	call := c.srv.Files.Create(file).SupportsAllDrives(true)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload %s: %w", in.ObjectKey, err)
	}
	return ports.PutObjectOutput{ObjectKey: created.Id, Size: in.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	resp, err := c.srv.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, 0, fmt.Errorf("gdrive download %s: %w", fileID, err)
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, fileID string) error {
	return c.srv.Files.Delete(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

// Ping fetches the folder metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c.folderID == "" {
		_, err := c.srv.About.Get().Fields("user").Context(ctx).Do()
		return err
	}
	_, err := c.srv.Files.Get(c.folderID).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
	return err
}
