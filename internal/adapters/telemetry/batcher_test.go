package telemetry_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.trai.ch/kiln/internal/adapters/telemetry"
)

// chunks records what a LogBatcher emits.
type chunks struct {
	mu  sync.Mutex
	got []string
}

func (c *chunks) add(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, string(data))
}

func (c *chunks) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestLogBatcher_SizeFlushEndsAtLine(t *testing.T) {
	var c chunks
	b := telemetry.NewLogBatcher(10, time.Hour, c.add)
	defer func() { _ = b.Close() }()

	_, err := b.Write([]byte("step 1\nste"))
	require.NoError(t, err)

	// The complete line is emitted; the partial one stays buffered.
	assert.Equal(t, []string{"step 1\n"}, c.all())

	_, err = b.Write([]byte("p 2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"step 1\n"}, c.all())

	require.NoError(t, b.Close())
	assert.Equal(t, []string{"step 1\n", "step 2\n"}, c.all())
}

func TestLogBatcher_LongLineIsSplit(t *testing.T) {
	var c chunks
	b := telemetry.NewLogBatcher(4, time.Hour, c.add)
	defer func() { _ = b.Close() }()

	_, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdef"}, c.all())
}

func TestLogBatcher_FlushOnTime(t *testing.T) {
	var c chunks
	b := telemetry.NewLogBatcher(100, 20*time.Millisecond, c.add)
	defer func() { _ = b.Close() }()

	_, err := b.Write([]byte("compiling"))
	require.NoError(t, err)
	assert.Empty(t, c.all())

	require.Eventually(t, func() bool {
		return strings.Join(c.all(), "") == "compiling"
	}, time.Second, 5*time.Millisecond)

	// The timer is armed again by the next write.
	_, err = b.Write([]byte(" done\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Join(c.all(), "") == "compiling done\n"
	}, time.Second, 5*time.Millisecond)
}

func TestLogBatcher_FlushAndClose(t *testing.T) {
	var c chunks
	b := telemetry.NewLogBatcher(100, time.Hour, c.add)

	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	b.Flush()
	assert.Equal(t, []string{"hello"}, c.all())

	// Empty flushes emit nothing.
	b.Flush()
	assert.Len(t, c.all(), 1)

	_, err = b.Write([]byte("pending"))
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, []string{"hello", "pending"}, c.all())

	_, err = b.Write([]byte("late"))
	require.ErrorIs(t, err, telemetry.ErrClosed)
	b.Flush()
	assert.Len(t, c.all(), 2)
}

func TestLogBatcher_ConcurrentWrites(t *testing.T) {
	var c chunks
	b := telemetry.NewLogBatcher(20, time.Millisecond, c.add)

	const (
		workers    = 10
		iterations = 100
	)
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for j := range iterations {
				_, _ = b.Write([]byte("a\n"))
				if j%10 == 0 {
					b.Flush()
				}
			}
		})
	}
	wg.Wait()
	require.NoError(t, b.Close())

	out := strings.Join(c.all(), "")
	assert.Equal(t, strings.Repeat("a\n", workers*iterations), out)
}
