package sandbox

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMonitorUnlimited_WarnsUntilStopped(t *testing.T) {
	var logs syncBuffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	stop := monitorUnlimited(context.Background(), 4242, "sample.ps1", 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("pid=4242"))
	}, time.Second, 5*time.Millisecond)
	stop()
}

func TestMonitorUnlimited_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := monitorUnlimited(ctx, 1, "sample.ps1", time.Hour)
	cancel()
	stop()
}
