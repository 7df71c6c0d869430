package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.trai.ch/kiln/internal/adapters/journal"
	"go.trai.ch/kiln/internal/adapters/kv"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/kiln/internal/engine/workerpool"
	"go.trai.ch/kiln/internal/pipeline"
)

// session holds the open state of a project: its database, content store, worker pool and
// tracker.
type session struct {
	tracker *tracker.Tracker
	pool    *workerpool.Pool

	mu   sync.Mutex
	pipe *pipeline.Pipeline

	closers []func() error
}

func (s *session) current() *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe
}

func (s *session) project() *domain.Project {
	return s.current().Project()
}

// reload swaps in a freshly loaded project. Requests of later builds see the new targets.
func (s *session) reload(p *domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipe = pipeline.New(p)
}

func (s *session) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *session) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// open opens the project's database and assembles a tracker on it. Without workers, tasks
// issued by requests fail and the start-up rescan hashes in process.
func (a *App) open(ctx context.Context, project *domain.Project, tracer ports.Tracer, workers bool) (*session, error) {
	sess := &session{pipe: pipeline.New(project)}
	ok := false
	defer func() {
		if !ok {
			_ = sess.close()
		}
	}()

	cfg := kv.DefaultConfig(joinRoot(project.Root, domain.DefaultDBPath()))
	cfg.Logger = slogger(a.logger)
	db, err := kv.Open(cfg)
	if err != nil {
		return nil, err
	}
	sess.onClose(db.Close)

	gc := kv.NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	gc.Start()
	sess.onClose(func() error {
		gc.Stop()
		return nil
	})

	jr, err := journal.New(db)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := a.opener.Open(ctx, db, project.Root, project.Cache)
	if err != nil {
		return nil, err
	}
	sess.onClose(closeStore)

	opts := tracker.Options{
		Journal:       jr,
		Store:         store,
		Fingerprinter: a.fp,
		Logger:        a.logger,
		Tracer:        tracer,
		Metrics:       a.metrics,
		GC:            project.GC,
	}
	if workers {
		sess.pool = workerpool.New(workerpool.Options{
			Size:    project.Workers,
			Spawner: a.spawner,
			Logger:  a.logger,
			Metrics: a.metrics,
		})
		sess.onClose(sess.pool.Close)
		opts.Tasks = sess.pool
	}

	sess.tracker, err = tracker.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	ok = true
	return sess, nil
}

func (a *App) closeSession(sess *session) {
	if err := sess.close(); err != nil {
		a.logger.Error(err)
	}
}

// slogger returns the slog.Logger behind logger, or nil when it has none.
func slogger(logger ports.Logger) *slog.Logger {
	if l, ok := logger.(interface{ Slog() *slog.Logger }); ok {
		return l.Slog()
	}
	return nil
}
