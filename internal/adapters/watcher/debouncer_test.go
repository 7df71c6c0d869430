package watcher_test

import (
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/watcher"
	"go.trai.ch/kiln/internal/core/domain"
)

// recorder collects debounced batches.
type recorder struct {
	mu      sync.Mutex
	batches [][]domain.FileEvent
}

func (r *recorder) record(events []domain.FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) last() []domain.FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func created(path string) domain.FileEvent {
	return domain.FileEvent{Kind: domain.FileCreated, Path: path}
}

func updated(path string) domain.FileEvent {
	return domain.FileEvent{Kind: domain.FileUpdated, Path: path}
}

func deleted(path string) domain.FileEvent {
	return domain.FileEvent{Kind: domain.FileDeleted, Path: path}
}

func TestDebouncer_Add_SingleEvent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		d := watcher.NewDebouncer(100*time.Millisecond, rec.record)

		d.Add(updated("/project/src/main.go"))

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		require.Equal(t, 1, rec.calls())
		assert.Equal(t, []domain.FileEvent{updated("/project/src/main.go")}, rec.last())
	})
}

func TestDebouncer_Add_BatchIsSortedByPath(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		d := watcher.NewDebouncer(100*time.Millisecond, rec.record)

		d.Add(updated("/project/src/file3.go"))
		d.Add(created("/project/src/file1.go"))
		d.Add(deleted("/project/src/file2.go"))

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		require.Equal(t, 1, rec.calls())
		assert.Equal(t, []domain.FileEvent{
			created("/project/src/file1.go"),
			deleted("/project/src/file2.go"),
			updated("/project/src/file3.go"),
		}, rec.last())
	})
}

func TestDebouncer_Add_Coalesces(t *testing.T) {
	const path = "/project/a.txt"
	tests := []struct {
		name   string
		events []domain.FileEvent
		want   domain.FileEventKind
	}{
		{
			name:   "repeated updates",
			events: []domain.FileEvent{updated(path), updated(path), updated(path)},
			want:   domain.FileUpdated,
		},
		{
			name:   "create then update stays a create",
			events: []domain.FileEvent{created(path), updated(path)},
			want:   domain.FileCreated,
		},
		{
			name:   "update then delete",
			events: []domain.FileEvent{updated(path), deleted(path)},
			want:   domain.FileDeleted,
		},
		{
			name:   "delete then create",
			events: []domain.FileEvent{deleted(path), created(path)},
			want:   domain.FileCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			d := watcher.NewDebouncer(time.Hour, rec.record)
			for _, ev := range tt.events {
				d.Add(ev)
			}
			d.Flush()

			require.Equal(t, 1, rec.calls())
			assert.Equal(t, []domain.FileEvent{{Kind: tt.want, Path: path}}, rec.last())
		})
	}
}

func TestDebouncer_Add_TimerReset(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		d := watcher.NewDebouncer(100*time.Millisecond, rec.record)

		d.Add(updated("/project/src/file1.go"))
		time.Sleep(50 * time.Millisecond)

		// The second event restarts the window.
		d.Add(updated("/project/src/file2.go"))
		time.Sleep(50 * time.Millisecond)
		synctest.Wait()
		assert.Equal(t, 0, rec.calls())

		time.Sleep(60 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, 1, rec.calls())
		assert.Len(t, rec.last(), 2)
	})
}

func TestDebouncer_Flush_Immediate(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		d := watcher.NewDebouncer(100*time.Millisecond, rec.record)

		d.Add(updated("/project/src/file1.go"))
		d.Add(updated("/project/src/file2.go"))
		assert.Equal(t, []string{"/project/src/file1.go", "/project/src/file2.go"}, d.Pending())

		d.Flush()

		require.Equal(t, 1, rec.calls())
		assert.Len(t, rec.last(), 2)
		assert.Empty(t, d.Pending())

		// The stopped timer never fires a second batch.
		time.Sleep(150 * time.Millisecond)
		synctest.Wait()
		assert.Equal(t, 1, rec.calls())
	})
}

func TestDebouncer_Flush_Empty(t *testing.T) {
	rec := &recorder{}
	d := watcher.NewDebouncer(100*time.Millisecond, rec.record)

	d.Flush()

	assert.Equal(t, 0, rec.calls())
}

func TestDebouncer_Flush_AfterFire(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		d := watcher.NewDebouncer(50*time.Millisecond, rec.record)

		d.Add(updated("/project/src/file1.go"))
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, 1, rec.calls())

		d.Flush()
		assert.Equal(t, 1, rec.calls())
	})
}

func TestDebouncer_NilCallback(t *testing.T) {
	synctest.Test(t, func(_ *testing.T) {
		d := watcher.NewDebouncer(50*time.Millisecond, nil)

		d.Add(updated("/project/src/file1.go"))
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()

		d.Flush()
	})
}

func TestDebouncer_Add_AfterFlush(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		d := watcher.NewDebouncer(100*time.Millisecond, rec.record)

		d.Add(updated("/project/src/file1.go"))
		d.Flush()
		require.Equal(t, 1, rec.calls())

		d.Add(updated("/project/src/file2.go"))
		d.Add(updated("/project/src/file3.go"))
		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		require.Equal(t, 2, rec.calls())
		assert.Equal(t, []domain.FileEvent{
			updated("/project/src/file2.go"),
			updated("/project/src/file3.go"),
		}, rec.last())
	})
}
