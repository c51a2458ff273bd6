package processor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"transcoder/internal/ladder"
	"transcoder/internal/ports"
	"transcoder/internal/worker/orchestrator"
)

type OutputHandler struct {
	sp ports.StorageProvider
}

func NewOutputHandler(sp ports.StorageProvider) *OutputHandler {
	return &OutputHandler{sp: sp}
}

// PublishResult counts what was uploaded.
type PublishResult struct {
	Objects int
	Bytes   int64
}

// Publish uploads every file of each rung directory under renditionsRoot to
// <videoID>/<label>/<relPath> in the destination bucket. The first failed
// upload stops the walk.
func (oh *OutputHandler) Publish(ctx context.Context, renditionsRoot, videoID string, rungs []ladder.Rung) (PublishResult, error) {
	var res PublishResult
	for _, r := range rungs {
		dir := orchestrator.OutputDir(renditionsRoot, r)
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			key := ObjectKey(videoID, r, rel)
			size, err := oh.upload(ctx, p, key)
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			res.Objects++
			res.Bytes += size
			return nil
		})
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (oh *OutputHandler) upload(ctx context.Context, localPath, key string) (int64, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("rendition file not found: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	out, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: ContentType(localPath),
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return 0, err
	}
	return out.Size, nil
}

// ObjectKey is the destination key of one rendition file. Keys always use
// forward slashes.
func ObjectKey(videoID string, r ladder.Rung, rel string) string {
	return path.Join(videoID, r.Label, filepath.ToSlash(rel))
}

// ContentType returns the MIME type for an HLS output file.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".m4s", ".mp4":
		return "video/mp4"
	case ".vtt":
		return "text/vtt"
	default:
		return "application/octet-stream"
	}
}
