package watcher

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
)

var _ ports.Watcher = (*Watcher)(nil)

// DefaultDebounceWindow is the default time window for debouncing file events.
const DefaultDebounceWindow = 50 * time.Millisecond

const batchChannelBuffer = 16

// Watcher implements recursive file system watching using fsnotify. Raw events are debounced
// into batches of domain.FileEvent.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	walker    *fs.Walker
	logger    ports.Logger
	ignores   []string
	root      string

	debouncer *Debouncer
	batches   chan []domain.FileEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(w *Watcher) {
		w.debouncer = NewDebouncer(d, w.emit)
	}
}

// WithIgnores skips entries whose base name matches one of the patterns.
func WithIgnores(patterns ...string) Option {
	return func(w *Watcher) {
		w.ignores = append(w.ignores, patterns...)
	}
}

// WithLogger reports watch errors.
func WithLogger(l ports.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// NewWatcher creates a new file system watcher.
func NewWatcher(walker *fs.Walker, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsWatcher: fsw,
		walker:    walker,
		batches:   make(chan []domain.FileEvent, batchChannelBuffer),
		done:      make(chan struct{}),
	}
	w.debouncer = NewDebouncer(DefaultDebounceWindow, w.emit)
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching the given root directory recursively.
func (w *Watcher) Start(ctx context.Context, root string) error {
	w.root = root
	for dir := range w.walker.WalkDirs(root, w.ignores) {
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
	}

	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher, delivers the pending batch and closes the batch stream.
func (w *Watcher) Stop() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsWatcher.Close()
		w.wg.Wait()
		w.debouncer.Flush()
		close(w.done)
	})
	return err
}

// Batches returns an iterator of debounced event batches. It ends when the watcher stops.
func (w *Watcher) Batches() iter.Seq[[]domain.FileEvent] {
	return func(yield func([]domain.FileEvent) bool) {
		for {
			select {
			case batch := <-w.batches:
				if !yield(batch) {
					return
				}
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) emit(events []domain.FileEvent) {
	select {
	case w.batches <- events:
	case <-w.done:
	}
}

// processEvents converts raw fsnotify events and feeds them to the debouncer.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}
			ev, ok := convertEvent(event)
			if !ok {
				continue
			}

			// A new directory is watched, and every file already inside it reported as created.
			if ev.Kind == domain.FileCreated {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
					continue
				}
			}
			w.debouncer.Add(ev)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.warn(fmt.Sprintf("watcher: file system error: %v", err))
		}
	}
}

func (w *Watcher) addTree(dir string) {
	for sub := range w.walker.WalkDirs(dir, w.ignores) {
		if err := w.fsWatcher.Add(sub); err != nil {
			w.warn(fmt.Sprintf("watcher: cannot watch %s: %v", sub, err))
		}
	}
	for file := range w.walker.WalkFiles(dir, w.ignores) {
		w.debouncer.Add(domain.FileEvent{Kind: domain.FileCreated, Path: file})
	}
}

// ignored reports whether path lies in a directory the walker skips, such as .kiln.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, part := range parts {
		if w.walker.Skip(part, i < len(parts)-1, w.ignores) {
			return true
		}
	}
	return false
}

func (w *Watcher) warn(msg string) {
	if w.logger != nil {
		w.logger.Warn(msg)
	}
}

// convertEvent maps an fsnotify event to a file event. Attribute-only changes are dropped.
func convertEvent(event fsnotify.Event) (domain.FileEvent, bool) {
	switch {
	case event.Has(fsnotify.Create):
		return domain.FileEvent{Kind: domain.FileCreated, Path: event.Name}, true
	case event.Has(fsnotify.Write):
		return domain.FileEvent{Kind: domain.FileUpdated, Path: event.Name}, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return domain.FileEvent{Kind: domain.FileDeleted, Path: event.Name}, true
	default:
		return domain.FileEvent{}, false
	}
}
