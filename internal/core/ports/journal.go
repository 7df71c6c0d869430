package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// GraphJournal persists a request graph as a snapshot plus an incremental delta log.
//
//go:generate mockgen -source=journal.go -destination=mocks/mock_journal.go -package=mocks
type GraphJournal interface {
	// Load returns the latest snapshot and the deltas recorded after it, in sequence order.
	// A journal with no history returns an empty snapshot.
	Load(ctx context.Context) (domain.GraphSnapshot, []domain.GraphDelta, error)
	// Append records deltas after the current tail.
	Append(ctx context.Context, deltas []domain.GraphDelta) error
	// Checkpoint replaces the snapshot and drops the deltas it folds in.
	Checkpoint(ctx context.Context, snapshot domain.GraphSnapshot) error
	// Len returns the number of deltas recorded since the last checkpoint.
	Len() int
}
