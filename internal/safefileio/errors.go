// Package safefileio reads and writes files without following symbolic links.
// It is used for every file that crosses the trust boundary of a run: the
// configuration, the guest script, the sandbox output and the report.
package safefileio

import "errors"

var (
	// ErrInvalidFilePath indicates that the specified file path is invalid.
	ErrInvalidFilePath = errors.New("invalid file path")

	// ErrIsSymlink indicates that the path or one of its directories is a symbolic link.
	ErrIsSymlink = errors.New("path is a symbolic link")

	// ErrFileTooLarge indicates that the file exceeds the read limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrFileExists indicates that the file already exists.
	ErrFileExists = errors.New("file exists")
)
