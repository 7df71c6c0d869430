package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Glob lists the files matching a doublestar pattern and records each of them. It re-runs when a
// matching file is created. Its result is the Inputs of every match.
type Glob struct {
	Dir     string
	Pattern string
	p       *Pipeline
}

// Glob returns the request matching pattern under dir.
func (p *Pipeline) Glob(dir, pattern string) *Glob {
	return &Glob{Dir: dir, Pattern: pattern, p: p}
}

// Key implements tracker.Request.
func (g *Glob) Key() string { return domain.NewRequestKey(domain.RequestTypeGlob, g.Dir, g.Pattern) }

// Type implements tracker.Request.
func (g *Glob) Type() string { return domain.RequestTypeGlob }

func (g *Glob) String() string { return domain.RequestTypeGlob + ":" + g.Pattern }

// Run implements tracker.Request.
func (g *Glob) Run(ctx context.Context, api tracker.API) error {
	pattern := absolute(g.Dir, g.Pattern)
	api.InvalidateOnFileCreate(pattern)

	matches, err := g.p.glob(pattern)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "invalid glob"), "pattern", g.Pattern)
	}
	slices.Sort(matches)

	var (
		mu   sync.Mutex
		errs []error
		eg   errgroup.Group
	)
	inputs := make(Inputs, len(matches))
	eg.SetLimit(g.p.fanout)
	for _, m := range matches {
		eg.Go(func() error {
			data, err := api.RunRequest(ctx, g.p.File(m))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			inputs[g.p.rel(m)] = string(data)
			return nil
		})
	}
	_ = eg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	out, err := encodeSorted(inputs)
	if err != nil {
		return err
	}
	api.StoreResult(out)
	return nil
}
