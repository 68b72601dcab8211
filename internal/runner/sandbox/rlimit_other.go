//go:build !linux

package sandbox

import "log/slog"

func applyMemoryLimit(pid int, limit uint64) error {
	slog.Debug("Memory limit not supported on this platform", "pid", pid, "limit", limit)
	return nil
}
