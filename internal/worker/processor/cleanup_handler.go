package processor

import (
	"context"
	"os"

	"transcoder/internal/media/encoder"
	"transcoder/internal/pkg/errors"
	"transcoder/internal/pkg/logger"
	"transcoder/internal/worker/orchestrator"
	"transcoder/internal/worker/workspace"
)

type Cleanup struct {
	log *logger.Logger
}

func NewCleanup(log *logger.Logger) *Cleanup {
	return &Cleanup{log: log}
}

// Reclaim removes the job workspace. Failures are logged, never returned.
func (c *Cleanup) Reclaim(ctx context.Context, ws *workspace.Workspace) {
	if ws == nil {
		return
	}
	if err := ws.Remove(); err != nil {
		c.log.LogError(ctx, "workspace reclaim failed",
			errors.WrapWithCode(err, errors.CodeCleanup, "processor.cleanup", "failed to remove workspace"),
			"path", ws.Dir,
		)
	}
}

// DiscardFailed deletes the output directories of failed renditions so
// partial segments are never published.
func (c *Cleanup) DiscardFailed(ctx context.Context, renditionsRoot string, failed []encoder.Outcome) {
	for _, f := range failed {
		dir := orchestrator.OutputDir(renditionsRoot, f.Rung)
		if err := os.RemoveAll(dir); err != nil {
			c.log.LogError(ctx, "failed rendition discard failed",
				errors.WrapWithCode(err, errors.CodeCleanup, "processor.cleanup", "failed to remove rendition output"),
				"rung", f.Rung.Label,
			)
		}
	}
}
