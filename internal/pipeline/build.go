package pipeline

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// AllTargets selects every target of the project.
const AllTargets = "all"

// Build is the root request of a build. Its result maps each selected target to its result.
type Build struct {
	Targets []string
	p       *Pipeline
}

// Build returns the root request for the named targets.
func (p *Pipeline) Build(targets ...string) *Build {
	names := slices.Clone(targets)
	slices.Sort(names)
	return &Build{Targets: slices.Compact(names), p: p}
}

// Key implements tracker.Request.
func (b *Build) Key() string { return domain.NewRequestKey(domain.RequestTypeBuild, b.Targets...) }

// Type implements tracker.Request.
func (b *Build) Type() string { return domain.RequestTypeBuild }

func (b *Build) String() string { return domain.RequestTypeBuild }

// Resolve expands AllTargets and checks that every name is defined.
func (b *Build) Resolve() ([]string, error) {
	if len(b.Targets) == 0 {
		return nil, domain.ErrNoTargetsSpecified
	}
	if slices.Contains(b.Targets, AllTargets) {
		return slices.Sorted(maps.Keys(b.p.project.Targets)), nil
	}
	for _, name := range b.Targets {
		if _, ok := b.p.project.Targets[name]; !ok {
			return nil, zerr.With(domain.ErrTargetNotFound, "target", name)
		}
	}
	return b.Targets, nil
}

// Run implements tracker.Request.
func (b *Build) Run(ctx context.Context, api tracker.API) error {
	api.InvalidateOnFileChange(b.p.ConfigPath())
	names, err := b.Resolve()
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
		eg   errgroup.Group
	)
	results := make(map[string]string, len(names))
	eg.SetLimit(b.p.fanout)
	for _, name := range names {
		eg.Go(func() error {
			data, err := api.RunRequest(ctx, b.p.Target(name))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			results[name] = string(data)
			return nil
		})
	}
	_ = eg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	out, err := encodeSorted(results)
	if err != nil {
		return err
	}
	api.StoreResult(out)
	return nil
}
