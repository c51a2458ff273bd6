// Package workspace manages the per-job scratch directories of the worker.
// Each workspace holds a flock on its own lock file for as long as the job
// runs, which lets SweepStale tell abandoned directories from live ones.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"transcoder/internal/pkg/logger"
	"transcoder/internal/pkg/textutil"
)

const (
	sourceDir     = "source"
	renditionsDir = "renditions"
	lockName      = ".lock"

	maxNameLen   = 64
	maxSourceLen = 128
	maxExtLen    = 16

	// uuidLen is the length of the canonical uuid suffix Create appends.
	uuidLen = 36
)

type Workspace struct {
	ID            string
	Dir           string
	SourceDir     string
	RenditionsDir string

	lock *flock.Flock
}

// SourcePath is where the source object named videoID is downloaded. Long
// names are shortened, keeping the extension, to stay under filesystem
// name limits.
func (w *Workspace) SourcePath(videoID string) string {
	return filepath.Join(w.SourceDir, boundedName(SanitizeFilename(filepath.Base(videoID)), maxSourceLen))
}

func boundedName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > maxExtLen {
		ext = ""
	}
	return textutil.Truncate(strings.TrimSuffix(name, ext), max-len(ext)) + ext
}

// Remove releases the lock and deletes the directory tree.
func (w *Workspace) Remove() error {
	if w.lock != nil {
		_ = w.lock.Unlock()
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.Dir, err)
	}
	return nil
}

type Manager struct {
	root string
	log  *logger.Logger
}

func NewManager(root string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{root: root, log: log.WithComponent("workspace")}
}

func (m *Manager) Root() string { return m.root }

// Create makes <root>/<sanitized videoID>-<uuid> with source/ and
// renditions/ and locks it.
func (m *Manager) Create(videoID string) (*Workspace, error) {
	id := uuid.NewString()
	name := textutil.Truncate(SanitizeFilename(filepath.Base(videoID)), maxNameLen)
	if name == "" {
		name = "input"
	}
	dir := filepath.Join(m.root, name+"-"+id)

	w := &Workspace{
		ID:            id,
		Dir:           dir,
		SourceDir:     filepath.Join(dir, sourceDir),
		RenditionsDir: filepath.Join(dir, renditionsDir),
	}
	for _, d := range []string{w.SourceDir, w.RenditionsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	w.lock = flock.New(filepath.Join(dir, lockName))
	ok, err := w.lock.TryLock()
	if err != nil || !ok {
		_ = os.RemoveAll(dir)
		if err == nil {
			err = fmt.Errorf("lock held by another process")
		}
		return nil, fmt.Errorf("lock workspace %s: %w", dir, err)
	}
	return w, nil
}

// SweepResult lists what SweepStale removed and what it could not.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

type SweepError struct {
	Path  string
	Error error
}

// SweepStale removes workspaces older than minAge whose lock nobody holds.
// Only directories Create made are candidates: the name ends in a uuid and
// the lock file already exists. Anything else under root is left alone, as
// are directories another worker still holds.
func (m *Manager) SweepStale(ctx context.Context, minAge time.Duration) SweepResult {
	result := SweepResult{}
	if strings.TrimSpace(m.root) == "" {
		return result
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: m.root, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-minAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || !isWorkspaceName(entry.Name()) {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Error: err})
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		lockPath := filepath.Join(dir, lockName)
		if st, err := os.Lstat(lockPath); err != nil || !st.Mode().IsRegular() {
			continue
		}
		lock := flock.New(lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Error: err})
			continue
		}
		if !ok {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dir, Error: err})
			m.log.Warn("failed to remove stale workspace", "path", dir, "error", err.Error())
		} else {
			result.Removed = append(result.Removed, dir)
			m.log.Info("removed stale workspace", "path", dir, "age", time.Since(info.ModTime()).String())
		}
		_ = lock.Unlock()
	}
	return result
}

// isWorkspaceName matches the <name>-<uuid> shape Create produces.
func isWorkspaceName(name string) bool {
	if len(name) < uuidLen+2 || name[len(name)-uuidLen-1] != '-' {
		return false
	}
	_, err := uuid.Parse(name[len(name)-uuidLen:])
	return err == nil
}

// SanitizeFilename strips path separators and traversal from s.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" || s == "." {
		return "input"
	}
	return s
}
