package pipeline

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/zerr"
)

// File records the content fingerprint of one file. Its result is the fingerprint.
type File struct {
	Path string
	p    *Pipeline
}

// File returns the request for the absolute path.
func (p *Pipeline) File(path string) *File {
	return &File{Path: path, p: p}
}

// Key implements tracker.Request.
func (f *File) Key() string { return domain.NewRequestKey(domain.RequestTypeFile, f.Path) }

// Type implements tracker.Request.
func (f *File) Type() string { return domain.RequestTypeFile }

func (f *File) String() string { return domain.RequestTypeFile + ":" + f.p.rel(f.Path) }

// Run implements tracker.Request.
func (f *File) Run(_ context.Context, api tracker.API) error {
	api.InvalidateOnFileChange(f.Path)
	sum, err := api.Fingerprint(f.Path)
	if err != nil {
		return err
	}
	if sum == "" {
		return zerr.With(domain.ErrInputNotFound, "path", f.p.rel(f.Path))
	}
	api.StoreResult([]byte(sum))
	return nil
}
