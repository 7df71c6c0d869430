package pipeline

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/zerr"
)

// Resolve resolves a literal input relative to a directory. It re-runs when the file is created,
// so a missing input fails only until it appears. Its result is a one-entry Inputs.
type Resolve struct {
	From string
	Spec string
	p    *Pipeline
}

// Resolve returns the request resolving spec from the directory from.
func (p *Pipeline) Resolve(from, spec string) *Resolve {
	return &Resolve{From: from, Spec: spec, p: p}
}

// Key implements tracker.Request.
func (r *Resolve) Key() string {
	return domain.NewRequestKey(domain.RequestTypeResolve, r.From, r.Spec)
}

// Type implements tracker.Request.
func (r *Resolve) Type() string { return domain.RequestTypeResolve }

func (r *Resolve) String() string { return domain.RequestTypeResolve + ":" + r.Spec }

// Run implements tracker.Request.
func (r *Resolve) Run(ctx context.Context, api tracker.API) error {
	path := absolute(r.From, r.Spec)
	api.InvalidateOnFileCreate(path)

	sum, err := api.Fingerprint(path)
	if err != nil {
		return err
	}
	if sum == "" {
		err := zerr.With(domain.ErrInputNotFound, "input", r.Spec)
		return zerr.With(err, "from", r.p.rel(r.From))
	}

	data, err := api.RunRequest(ctx, r.p.File(path))
	if err != nil {
		return err
	}
	out, err := encodeSorted(Inputs{r.p.rel(path): string(data)})
	if err != nil {
		return err
	}
	api.StoreResult(out)
	return nil
}
