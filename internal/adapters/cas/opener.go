package cas

import (
	"context"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Opener builds the content store for a loaded project.
type Opener struct {
	logger  ports.Logger
	metrics ports.Metrics
}

// NewOpener creates an Opener that passes logger and metrics to every store it opens.
func NewOpener(logger ports.Logger, metrics ports.Metrics) *Opener {
	return &Opener{logger: logger, metrics: metrics}
}

// Open assembles the local tier on db (or under root for the "dir" backend) and the configured
// remote tier. The returned close function releases the remote client.
func (o *Opener) Open(
	ctx context.Context,
	db *badger.DB,
	root string,
	cfg domain.CacheConfig,
) (*Store, func() error, error) {
	var local ports.CacheBackend
	switch cfg.Local {
	case "", "badger":
		local = NewBadgerBackend(db)
	case "dir":
		local = NewDirBackend(filepath.Join(root, domain.DefaultBlobPath()))
	default:
		return nil, nil, zerr.With(zerr.Wrap(domain.ErrConfigInvalid, "unknown local cache backend"), "backend", cfg.Local)
	}

	opts := []Option{WithLogger(o.logger), WithMetrics(o.metrics)}
	closeFn := func() error { return nil }

	switch {
	case cfg.Remote != nil && cfg.Remote.URL != "":
		remote := NewHTTPBackend(cfg.Remote.URL, cfg.Remote.Writable, WithTimeout(cfg.Remote.Timeout))
		opts = append(opts, WithRemote(remote, cfg.Remote.Authoritative))
	case cfg.GCS != nil && cfg.GCS.Bucket != "":
		client, err := NewGCSClient(ctx, cfg.GCS.Credentials)
		if err != nil {
			return nil, nil, err
		}
		remote := NewGCSBackend(client, cfg.GCS.Bucket, cfg.GCS.Prefix, cfg.GCS.Writable)
		opts = append(opts, WithRemote(remote, cfg.GCS.Authoritative))
		closeFn = client.Close
	}

	store, err := NewStore(local, opts...)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}
