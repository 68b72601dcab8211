//nolint:revive // package name conflicts with standard library
package errors

import (
	"context"
	"log/slog"
)

// LogAttrs returns the structured attributes describing err.
func LogAttrs(err error) []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	if kind, ok := KindOf(err); ok {
		attrs = append(attrs,
			slog.String("error_kind", kind.String()),
			slog.String("error_category", kind.Category().String()))
	} else {
		attrs = append(attrs, slog.String("error_kind", "unclassified"))
	}
	attrs = append(attrs,
		slog.String("message", Message(err)),
		slog.Any("error", err))
	return attrs
}

// LogClassifiedError logs err at a level chosen by its category: error for
// environment and unclassified failures, warn for sandbox and report failures.
func LogClassifiedError(logger *slog.Logger, msg string, err error) {
	if err == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelError
	switch category, _ := CategoryOf(err); category {
	case KindSandbox, KindReport:
		level = slog.LevelWarn
	}

	logger.LogAttrs(context.Background(), level, msg, LogAttrs(err)...)
}
