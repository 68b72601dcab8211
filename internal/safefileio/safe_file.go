package safefileio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MaxFileSize is the default read limit of SafeReadFile (128 MB).
const MaxFileSize = 128 * 1024 * 1024

// SafeReadFile reads a regular file of at most MaxFileSize bytes.
func SafeReadFile(filePath string) ([]byte, error) {
	return SafeReadFileLimit(filePath, MaxFileSize)
}

// SafeReadFileLimit reads a regular file of at most limit bytes. The final
// path element is opened with O_NOFOLLOW and the directories are checked
// after opening, so a symlink swapped in between is still detected.
func SafeReadFileLimit(filePath string, limit int64) ([]byte, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	// #nosec G304 - absPath is cleaned above and opened with O_NOFOLLOW
	file, err := os.OpenFile(absPath, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		if isNoFollowError(err) {
			return nil, ErrIsSymlink
		}
		return nil, err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Debug("failed to close file", "path", absPath, "error", closeErr)
		}
	}()

	if err := verifyPathComponents(absPath); err != nil {
		return nil, err
	}

	info, err := validateFile(file, absPath)
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, absPath, info.Size(), limit)
	}

	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", absPath, err)
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: %s grew past %d bytes while reading", ErrFileTooLarge, absPath, limit)
	}
	return content, nil
}

// SafeCreate creates filePath exclusively for writing. The file must not
// exist, and neither it nor any parent directory may be a symlink.
func SafeCreate(filePath string, perm os.FileMode) (*os.File, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	// #nosec G304 - absPath is cleaned above and opened with O_NOFOLLOW|O_EXCL
	file, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL|unix.O_NOFOLLOW, perm)
	if err != nil {
		switch {
		case os.IsExist(err):
			return nil, fmt.Errorf("%w: %s", ErrFileExists, absPath)
		case isNoFollowError(err):
			return nil, ErrIsSymlink
		default:
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
	}

	if err := verifyPathComponents(absPath); err != nil {
		_ = file.Close()
		_ = os.Remove(absPath)
		return nil, err
	}
	return file, nil
}

// SafeWriteFile creates filePath exclusively and writes content to it. On a
// write failure the partial file is removed so the call can be retried.
func SafeWriteFile(filePath string, content []byte, perm os.FileMode) (err error) {
	file, err := SafeCreate(filePath, perm)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(file.Name())
		}
	}()

	if _, err = file.Write(content); err != nil {
		return fmt.Errorf("failed to write to %s: %w", file.Name(), err)
	}
	return nil
}

// verifyPathComponents walks from the parent directory of absPath up to the
// root and rejects any component that is a symlink.
func verifyPathComponents(absPath string) error {
	current := filepath.Dir(absPath)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return nil
		}

		fi, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to stat %s: %w", current, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, current)
		}

		current = parent
	}
}

// validateFile checks through the open descriptor that the file is regular.
func validateFile(file *os.File, filePath string) (os.FileInfo, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, filePath)
	}
	return info, nil
}

// isNoFollowError reports whether err came from opening a symlink with O_NOFOLLOW.
func isNoFollowError(err error) bool {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return false
	}
	return errors.Is(pathErr.Err, unix.ELOOP) || errors.Is(pathErr.Err, unix.EMLINK)
}
