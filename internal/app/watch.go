package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/zerr"
)

// errSuperseded cancels a build whose inputs changed while it ran.
var errSuperseded = errors.New("superseded by a newer build")

// Watch builds the named targets, then rebuilds them after every batch of file system changes
// until ctx is done. A batch arriving during a build cancels it.
func (a *App) Watch(ctx context.Context, targets []string, opts BuildOptions) error {
	project, err := a.load(opts.Settings)
	if err != nil {
		return err
	}
	if _, err := pipelineBuild(project, targets).Resolve(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopMetrics, err := a.serveMetrics(ctx, opts.MetricsAddr)
	if err != nil {
		return err
	}
	defer stopMetrics()

	w, err := a.newWatcher()
	if err != nil {
		return err
	}
	if err := w.Start(ctx, project.Root); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to watch project"), "root", project.Root)
	}
	defer func() { _ = w.Stop() }()

	view := a.newView(ctx, opts.OutputMode, cancel)
	defer view.shutdown(ctx)

	sess, err := a.open(ctx, project, view.tracer, true)
	if err != nil {
		return err
	}
	defer a.closeSession(sess)

	batches := make(chan []domain.FileEvent)
	go func() {
		for batch := range w.Batches() {
			select {
			case batches <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return a.render(ctx, view.renderer, false, func(ctx context.Context) error {
		return a.watchLoop(ctx, sess, targets, opts.Settings, batches, view.interactive)
	})
}

type buildResult struct {
	report *tracker.Report
	err    error
}

func (a *App) watchLoop(
	ctx context.Context,
	sess *session,
	targets []string,
	settings Settings,
	batches <-chan []domain.FileEvent,
	interactive bool,
) error {
	var (
		running *tracker.Build
		done    chan buildResult
	)
	start := func() error {
		b, err := a.startBuild(ctx, sess, targets)
		if err != nil {
			return err
		}
		running, done = b, make(chan buildResult, 1)
		root := sess.current().Build(targets...)
		go func() {
			_, _ = b.Run(ctx, root)
			report, err := b.Finish(ctx)
			done <- buildResult{report: report, err: err}
		}()
		return nil
	}
	finish := func(res buildResult) {
		running, done = nil, nil
		if res.err != nil {
			a.logger.Error(res.err)
			return
		}
		if interactive {
			return
		}
		if res.report.Cancelled {
			a.logger.Info(fmt.Sprintf("build %d cancelled", res.report.Epoch))
			return
		}
		if err := a.summarize(res.report, false); err != nil && !errors.Is(err, domain.ErrBuildExecutionFailed) {
			a.logger.Error(err)
		}
	}

	if err := start(); err != nil {
		return err
	}
	for {
		select {
		case res := <-done:
			finish(res)
		case batch := <-batches:
			if running != nil {
				running.Cancel(errSuperseded)
				finish(<-done)
			}
			a.apply(sess, settings, batch)
			if err := start(); err != nil {
				return err
			}
		case <-ctx.Done():
			if running != nil {
				running.Cancel(context.Cause(ctx))
				finish(<-done)
			}
			return nil
		}
	}
}

// apply queues a batch of events and reloads the project when its file changed.
func (a *App) apply(sess *session, settings Settings, batch []domain.FileEvent) {
	sess.tracker.Notify(batch...)

	configPath := sess.current().ConfigPath()
	if !slices.ContainsFunc(batch, func(e domain.FileEvent) bool { return e.Path == configPath }) {
		return
	}
	project, err := a.load(settings)
	if err != nil {
		a.logger.Error(zerr.Wrap(err, "keeping the previous configuration"))
		return
	}
	a.logger.Info(domain.ConfigFileName + " changed, reloading")
	sess.reload(project)
}
