package processor

import (
	"context"
	"fmt"
	"io"
	"os"

	"transcoder/internal/ports"
	"transcoder/internal/worker/workspace"
)

type InputHandler struct {
	sp ports.StorageProvider
}

func NewInputHandler(sp ports.StorageProvider) *InputHandler {
	return &InputHandler{sp: sp}
}

// Acquire downloads the source object videoID into the workspace and
// returns the local path.
func (ih *InputHandler) Acquire(ctx context.Context, ws *workspace.Workspace, videoID string) (string, int64, error) {
	rc, _, err := ih.sp.GetObject(ctx, videoID)
	if err != nil {
		return "", 0, fmt.Errorf("download %s from %s/%s: %w", videoID, ih.sp.Provider(), ih.sp.Bucket(), err)
	}
	defer rc.Close()

	localPath := ws.SourcePath(videoID)
	n, err := ih.saveToLocal(localPath, rc)
	if err != nil {
		return "", 0, fmt.Errorf("save source locally: %w", err)
	}
	return localPath, n, nil
}

func (ih *InputHandler) saveToLocal(localPath string, rc io.Reader) (int64, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, rc)
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	return n, f.Close()
}
