// Package watcher implements file system watching that feeds batched events to the invalidation
// engine.
package watcher

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unique"

	"go.trai.ch/kiln/internal/core/domain"
)

// Debouncer coalesces rapid file system events into batches. Events for one path collapse into
// a single event describing the net change.
type Debouncer struct {
	mu       sync.Mutex
	pending  map[unique.Handle[string]]domain.FileEventKind
	timer    *time.Timer
	window   time.Duration
	callback func(events []domain.FileEvent)
}

// NewDebouncer creates a new debouncer with the given time window and callback.
func NewDebouncer(window time.Duration, callback func(events []domain.FileEvent)) *Debouncer {
	return &Debouncer{
		pending:  make(map[unique.Handle[string]]domain.FileEventKind),
		window:   window,
		callback: callback,
	}
}

// Add adds an event to the pending batch and restarts the window.
func (d *Debouncer) Add(ev domain.FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handle := unique.Make(ev.Path)
	if prev, ok := d.pending[handle]; ok {
		d.pending[handle] = coalesce(prev, ev.Kind)
	} else {
		d.pending[handle] = ev.Kind
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

// coalesce folds the next event for a path into the pending one.
// A create followed by updates is still a create; anything followed by a delete is a delete;
// a delete followed by a create is a create.
func coalesce(prev, next domain.FileEventKind) domain.FileEventKind {
	if prev == domain.FileCreated && next == domain.FileUpdated {
		return domain.FileCreated
	}
	return next
}

// fire is called when the debounce window expires.
func (d *Debouncer) fire() {
	d.mu.Lock()

	// Check if there's anything to process (protects against race with Flush).
	if len(d.pending) == 0 {
		d.timer = nil
		d.mu.Unlock()
		return
	}

	events := d.drain()
	d.timer = nil
	d.mu.Unlock()

	if d.callback != nil {
		go d.callback(events)
	}
}

// Flush immediately triggers the debounce callback with all pending events.
// This method blocks until the callback completes.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		if !d.timer.Stop() {
			// Timer already fired, let it complete rather than processing twice.
			d.mu.Unlock()
			return
		}
		d.timer = nil
	}
	events := d.drain()
	d.mu.Unlock()

	if len(events) > 0 && d.callback != nil {
		d.callback(events)
	}
}

// drain returns the pending events sorted by path and clears them. The caller holds d.mu.
func (d *Debouncer) drain() []domain.FileEvent {
	events := make([]domain.FileEvent, 0, len(d.pending))
	for handle, kind := range d.pending {
		events = append(events, domain.FileEvent{Kind: kind, Path: handle.Value()})
	}
	slices.SortFunc(events, func(a, b domain.FileEvent) int {
		return strings.Compare(a.Path, b.Path)
	})
	clear(d.pending)
	return events
}

// Pending returns the paths waiting for the window to close.
func (d *Debouncer) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, 0, len(d.pending))
	for handle := range maps.Keys(d.pending) {
		paths = append(paths, handle.Value())
	}
	slices.Sort(paths)
	return paths
}
