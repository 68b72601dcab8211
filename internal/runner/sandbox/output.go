package sandbox

import (
	"bytes"
	"os"
	"sync"
)

// outputWrapper captures up to limit bytes of one guest stream and forwards
// everything it receives to an optional OutputWriter. Bytes past the limit
// are dropped, not refused, so the guest never sees a write error.
type outputWrapper struct {
	writer    OutputWriter
	stream    string
	limit     int64
	buffer    bytes.Buffer
	truncated bool
	mu        sync.Mutex
}

func newOutputWrapper(w OutputWriter, stream string, limit int64) *outputWrapper {
	return &outputWrapper{writer: w, stream: stream, limit: limit}
}

func (w *outputWrapper) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	room := w.limit - int64(w.buffer.Len())
	switch {
	case w.limit <= 0:
		w.buffer.Write(p)
	case room >= int64(len(p)):
		w.buffer.Write(p)
	default:
		if room > 0 {
			w.buffer.Write(p[:room])
		}
		w.truncated = true
	}

	if w.writer != nil {
		if err := w.writer.Write(w.stream, p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *outputWrapper) contents() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffer.String(), w.truncated
}

// ConsoleOutputWriter copies guest output to the process's stdout and stderr.
type ConsoleOutputWriter struct {
	mu sync.Mutex
}

// Write implements OutputWriter.
func (w *ConsoleOutputWriter) Write(stream string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if stream == StderrStream {
		_, err := os.Stderr.Write(data)
		return err
	}
	_, err := os.Stdout.Write(data)
	return err
}
