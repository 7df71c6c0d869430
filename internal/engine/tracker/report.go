package tracker

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Report summarises a finished build.
type Report struct {
	ID    string
	Epoch uint64
	// Executed counts request bodies that ran and committed a result.
	Executed int
	// Cached counts requests served from a Valid node.
	Cached int
	// Errored counts requests that failed, including those failing because a subrequest did.
	Errored int
	// Invalidated counts the nodes invalidated when the build started.
	Invalidated int
	// Collected counts nodes removed by garbage collection.
	Collected int
	// Diagnostics holds one entry per request whose own body failed.
	Diagnostics []domain.Diagnostic
	// Fatal is the error that terminated the build, such as a request cycle.
	Fatal     error
	Cancelled bool
	Duration  time.Duration
}

// Err aggregates every failure of the build. It returns nil for a clean build.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Diagnostics)+2)
	switch {
	case r.Fatal != nil:
		errs = append(errs, r.Fatal)
	case r.Cancelled:
		errs = append(errs, domain.ErrBuildCancelled)
	case len(r.Diagnostics) > 0:
		errs = append(errs, domain.ErrBuildExecutionFailed)
	}
	for _, d := range r.Diagnostics {
		errs = append(errs, d)
	}
	return errors.Join(errs...)
}

// String returns a one-line summary.
func (r *Report) String() string {
	return fmt.Sprintf("build %d: %d executed, %d cached, %d errored, %d invalidated in %s",
		r.Epoch, r.Executed, r.Cached, r.Errored, r.Invalidated, r.Duration.Round(time.Millisecond))
}

func cycleError(path []string) error {
	err := zerr.Wrap(domain.ErrInvalidationCycle, strings.Join(path, " -> "))
	return zerr.With(err, "request", path[0])
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
