package ports

import (
	"context"
	"iter"

	"go.trai.ch/kiln/internal/core/domain"
)

// Watcher defines the interface for watching file system changes.
type Watcher interface {
	// Start begins watching the given root directory recursively.
	// It returns an error if the watcher fails to start.
	Start(ctx context.Context, root string) error
	// Stop stops the watcher and releases all resources.
	Stop() error
	// Batches returns an iterator of debounced event batches.
	Batches() iter.Seq[[]domain.FileEvent]
}
