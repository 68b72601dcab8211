package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/isseis/go-boxps/internal/safefileio"
)

const (
	workDirPermissions = 0o700
	guestScriptName    = "guest.ps1"
	guestScriptPerm    = 0o600
)

// workDir is the private directory a single guest run executes in.
type workDir struct {
	path string
}

// newWorkDir creates a 0700 directory under parent (os.TempDir if empty)
// and writes the guest script into it.
func newWorkDir(parent string, script *Script) (*workDir, error) {
	dir, err := os.MkdirTemp(parent, "boxps-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	// #nosec G302 - 0700 is intentional for the guest working directory
	if err := os.Chmod(dir, workDirPermissions); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to set permissions on work directory: %w", err)
	}

	w := &workDir{path: dir}
	if err := safefileio.SafeWriteFile(w.scriptPath(), script.Content, guestScriptPerm); err != nil {
		w.cleanup()
		return nil, fmt.Errorf("failed to copy guest script: %w", err)
	}

	slog.Debug("Created work directory", "path", dir, "script", script.Name)
	return w, nil
}

func (w *workDir) scriptPath() string { return filepath.Join(w.path, guestScriptName) }

func (w *workDir) outputPath() string { return filepath.Join(w.path, OutputFileName) }

// readOutput returns the entry script's JSON output. Both results are nil
// if it wrote none.
func (w *workDir) readOutput(limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = safefileio.MaxFileSize
	}
	data, err := safefileio.SafeReadFileLimit(w.outputPath(), limit)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case errors.Is(err, safefileio.ErrFileTooLarge):
		slog.Warn("Sandbox output too large", "path", w.outputPath(), "limit", limit)
		return nil, &OutputTooLargeError{Limit: limit, err: err}
	default:
		slog.Warn("Cannot read sandbox output", "path", w.outputPath(), "error", err)
		return nil, fmt.Errorf("cannot read sandbox output: %w", err)
	}
}

func (w *workDir) cleanup() {
	if err := os.RemoveAll(w.path); err != nil {
		slog.Error("Failed to clean up work directory", "path", w.path, "error", err)
		return
	}
	slog.Debug("Cleaned up work directory", "path", w.path)
}
