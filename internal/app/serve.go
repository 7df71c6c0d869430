package app

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"slices"
	"time"

	"go.trai.ch/kiln/internal/adapters/cacheserver"
	"go.trai.ch/kiln/internal/adapters/cas"
	"go.trai.ch/kiln/internal/adapters/ipc"
	"go.trai.ch/kiln/internal/adapters/kv"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/plugin"
	"go.trai.ch/kiln/internal/engine/workerpool"
	"go.trai.ch/zerr"
)

// ServeWorker runs the worker side of the task protocol on stdin and stdout until the parent
// closes the stream.
func (a *App) ServeWorker(ctx context.Context) error {
	return a.serveWorker(ctx, os.Stdin, os.Stdout)
}

func (a *App) serveWorker(ctx context.Context, r io.Reader, w io.Writer) error {
	return workerpool.Serve(ctx, ipc.NewStream(r, w), plugin.Builtin(a.executor, a.fp))
}

// CacheServeOptions configures ServeCache.
type CacheServeOptions struct {
	Addr string
	// Dir serves a sharded blob directory. It is used when DB is empty.
	Dir string
	// DB serves the cache entries of a badger database instead of a directory.
	DB            string
	IdleTimeout   time.Duration
	MaxObjectSize int64
	// Ready receives the listening address once the server accepts connections.
	Ready func(addr string)
}

// ServeCache runs an HTTP remote cache until ctx is done or the server has been idle for
// IdleTimeout.
func (a *App) ServeCache(ctx context.Context, opts CacheServeOptions) error {
	var backend ports.CacheBackend
	if opts.DB != "" {
		cfg := kv.DefaultConfig(opts.DB)
		cfg.Logger = slogger(a.logger)
		db, err := kv.Open(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		backend = cas.NewBadgerBackend(db)
	} else {
		if opts.Dir == "" {
			return zerr.New("cache server needs a directory or a database")
		}
		backend = cas.NewDirBackend(opts.Dir)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", opts.Addr)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to listen"), "addr", opts.Addr)
	}

	serverOpts := []cacheserver.Option{
		cacheserver.WithLogger(a.logger),
		cacheserver.WithMetrics(a.metrics),
		cacheserver.WithIdleTimeout(opts.IdleTimeout),
	}
	if opts.MaxObjectSize > 0 {
		serverOpts = append(serverOpts, cacheserver.WithMaxObjectSize(opts.MaxObjectSize))
	}
	srv := cacheserver.New(backend, serverOpts...)
	a.logger.Info("serving cache on http://" + ln.Addr().String())
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}
	return srv.Serve(ctx, ln)
}

// GraphStats writes node counts by state, edge counts by kind and the journal length of the
// project's request graph.
func (a *App) GraphStats(ctx context.Context, w io.Writer) error {
	project, err := a.load(Settings{})
	if err != nil {
		return err
	}
	sess, err := a.open(ctx, project, nil, false)
	if err != nil {
		return err
	}
	defer a.closeSession(sess)

	stats := sess.tracker.Stats()
	_, _ = fmt.Fprintf(w, "nodes: %d\n", stats.Nodes)
	for _, state := range slices.Sorted(maps.Keys(stats.States)) {
		_, _ = fmt.Fprintf(w, "  %s: %d\n", state, stats.States[state])
	}
	_, _ = fmt.Fprintln(w, "edges:")
	for _, kind := range slices.Sorted(maps.Keys(stats.Edges)) {
		_, _ = fmt.Fprintf(w, "  %s: %d\n", kind, stats.Edges[kind])
	}
	_, _ = fmt.Fprintf(w, "files: %d\n", stats.Files)
	_, _ = fmt.Fprintf(w, "journal: %d deltas\n", stats.JournalLen)
	return nil
}
