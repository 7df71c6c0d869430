package ipc

import (
	"bytes"
	"sync"

	"go.trai.ch/kiln/internal/core/ports"
)

// LogWriter turns worker stderr into log lines.
type LogWriter struct {
	logger ports.Logger

	mu  sync.Mutex
	buf []byte
}

// NewLogWriter returns a writer that logs every complete line at info level.
func NewLogWriter(logger ports.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Write implements io.Writer.
func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(w.buf[:i], "\r"); len(line) > 0 {
			w.logger.Info(string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing partial line.
func (w *LogWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.logger.Info(string(w.buf))
		w.buf = nil
	}
}
