// Package telemetry provides adapters for collecting and processing telemetry data.
package telemetry

import (
	"bytes"
	"sync"
	"time"

	"go.trai.ch/zerr"
)

// ErrClosed is returned by writes to a closed LogBatcher.
var ErrClosed = zerr.New("log batcher is closed")

const (
	// DefaultSizeLimit is the buffered size that forces a flush.
	DefaultSizeLimit = 4096
	// DefaultTimeLimit bounds how long output waits in the buffer.
	DefaultTimeLimit = 50 * time.Millisecond
)

// LogBatcher coalesces the output of one request into chunks for the renderer.
//
// A size-triggered chunk ends at the last complete line, so renderers that prefix every line
// never see a line split across chunks. A partial line is only emitted once the time limit
// passes, or when a single line outgrows the size limit. The timer runs only while output is
// buffered.
type LogBatcher struct {
	sizeLimit int
	timeLimit time.Duration
	onFlush   func([]byte)

	mu     sync.Mutex
	buf    []byte
	timer  *time.Timer
	closed bool
}

// NewLogBatcher returns a batcher that hands chunks to onFlush, in write order.
// Non-positive limits select the defaults.
func NewLogBatcher(sizeLimit int, timeLimit time.Duration, onFlush func([]byte)) *LogBatcher {
	if sizeLimit <= 0 {
		sizeLimit = DefaultSizeLimit
	}
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}
	return &LogBatcher{sizeLimit: sizeLimit, timeLimit: timeLimit, onFlush: onFlush}
}

// Write buffers p.
func (b *LogBatcher) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	b.buf = append(b.buf, p...)
	if len(b.buf) >= b.sizeLimit {
		cut := bytes.LastIndexByte(b.buf, '\n') + 1
		if cut == 0 {
			cut = len(b.buf)
		}
		b.emitLocked(cut)
	}
	if len(b.buf) > 0 && b.timer == nil {
		b.timer = time.AfterFunc(b.timeLimit, b.Flush)
	}
	return len(p), nil
}

// Flush emits everything buffered, including a partial line.
func (b *LogBatcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimerLocked()
	if b.closed {
		return
	}
	b.emitLocked(len(b.buf))
}

// Close emits what is buffered. Later writes fail with ErrClosed.
func (b *LogBatcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	b.emitLocked(len(b.buf))
	return nil
}

func (b *LogBatcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// emitLocked hands the first n buffered bytes to onFlush. Calling it under mu keeps chunks in
// order; onFlush must not block.
func (b *LogBatcher) emitLocked(n int) {
	if n == 0 {
		return
	}
	chunk := bytes.Clone(b.buf[:n])
	b.buf = b.buf[:copy(b.buf, b.buf[n:])]
	if b.onFlush != nil {
		b.onFlush(chunk)
	}
}
