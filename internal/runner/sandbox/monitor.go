package sandbox

import (
	"context"
	"log/slog"
	"time"
)

// unlimitedWarningInterval is how often a guest without a time budget is
// reported as still running.
const unlimitedWarningInterval = 5 * time.Minute

// monitorUnlimited logs a warning every interval while a guest that has no
// timeout keeps running. The returned function stops the monitor.
func monitorUnlimited(ctx context.Context, pid int, script string, interval time.Duration) context.CancelFunc {
	monitorCtx, cancel := context.WithCancel(ctx)
	start := time.Now()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				slog.Warn("Guest running for extended period with unlimited timeout",
					"script", script,
					"pid", pid,
					"duration_minutes", int(time.Since(start).Minutes()))
			case <-monitorCtx.Done():
				return
			}
		}
	}()

	return cancel
}
