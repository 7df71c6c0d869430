// Package app implements the application layer for kiln.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.trai.ch/kiln/internal/adapters/cas"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/adapters/watcher"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/kiln/internal/pipeline"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Deps are the adapters an App is assembled from.
type Deps struct {
	Loader        ports.ConfigLoader
	Logger        ports.Logger
	Executor      ports.Executor
	Fingerprinter ports.Fingerprinter
	Spawner       ports.WorkerSpawner
	Opener        *cas.Opener
	Metrics       ports.Metrics
	Walker        *fs.Walker
}

// App represents the main application logic.
type App struct {
	loader   ports.ConfigLoader
	logger   ports.Logger
	executor ports.Executor
	fp       ports.Fingerprinter
	spawner  ports.WorkerSpawner
	opener   *cas.Opener
	metrics  ports.Metrics

	newWatcher func() (ports.Watcher, error)
	dir        string
	stdout     io.Writer
	stderr     io.Writer
	teaOptions []tea.ProgramOption
}

// New creates a new App instance.
func New(d Deps) *App {
	a := &App{
		loader:   d.Loader,
		logger:   d.Logger,
		executor: d.Executor,
		fp:       d.Fingerprinter,
		spawner:  d.Spawner,
		opener:   d.Opener,
		metrics:  d.Metrics,
		dir:      ".",
	}
	a.newWatcher = func() (ports.Watcher, error) {
		return watcher.NewWatcher(d.Walker,
			watcher.WithLogger(d.Logger),
			watcher.WithIgnores(domain.KilnDirName, ".git"),
		)
	}
	return a
}

// WithTeaOptions adds bubbletea program options to the App.
// This is primarily used for testing to disable input/output.
func (a *App) WithTeaOptions(opts ...tea.ProgramOption) *App {
	a.teaOptions = append(a.teaOptions, opts...)
	return a
}

// WithOutput sends renderer output to stdout and stderr instead of the process streams.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	return a
}

// WithDir makes the App look for kiln.yaml from dir instead of the working directory.
func (a *App) WithDir(dir string) *App {
	a.dir = dir
	return a
}

// WithWatcher replaces the file system watcher used by Watch.
func (a *App) WithWatcher(fn func() (ports.Watcher, error)) *App {
	a.newWatcher = fn
	return a
}

// Settings override values of the project file. Zero values keep the file's value.
type Settings struct {
	Workers   int
	RemoteURL string
	GC        *bool
	Options   map[string]string
}

func (s Settings) apply(p *domain.Project) {
	if s.Workers > 0 {
		p.Workers = s.Workers
	}
	if s.GC != nil {
		p.GC = *s.GC
	}
	if s.RemoteURL != "" {
		if p.Cache.Remote == nil {
			p.Cache.Remote = &domain.RemoteCacheConfig{}
		}
		p.Cache.Remote.URL = s.RemoteURL
		// A remote given on the command line replaces a GCS tier from the file.
		p.Cache.GCS = nil
	}
	if len(s.Options) > 0 {
		if p.Options == nil {
			p.Options = make(map[string]string, len(s.Options))
		}
		maps.Copy(p.Options, s.Options)
	}
}

// BuildOptions configures Build and Watch.
type BuildOptions struct {
	Settings
	OutputMode string
	// Inspect keeps the TUI open after the build finishes.
	Inspect bool
	// MetricsAddr serves Prometheus metrics on this address while the command runs.
	MetricsAddr string
}

// Build runs one build of the named targets.
func (a *App) Build(ctx context.Context, targets []string, opts BuildOptions) error {
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

	view := a.newView(ctx, opts.OutputMode, cancel)
	defer view.shutdown(ctx)

	sess, err := a.open(ctx, project, view.tracer, true)
	if err != nil {
		return err
	}
	defer a.closeSession(sess)

	var report *tracker.Report
	err = a.render(ctx, view.renderer, opts.Inspect, func(ctx context.Context) error {
		b, err := a.startBuild(ctx, sess, targets)
		if err != nil {
			return err
		}
		_, _ = b.Run(ctx, sess.current().Build(targets...))
		report, err = b.Finish(ctx)
		return err
	})
	if err != nil {
		return err
	}
	return a.summarize(report, view.interactive)
}

func pipelineBuild(project *domain.Project, targets []string) *pipeline.Build {
	return pipeline.New(project).Build(targets...)
}

func (a *App) startBuild(ctx context.Context, sess *session, targets []string) (*tracker.Build, error) {
	return sess.tracker.StartBuild(ctx, tracker.BuildInput{
		Roots:   targets,
		Env:     environ(),
		Options: sess.project().Options,
	})
}

// summarize logs the outcome of a build. An interactive view has already gone, so its
// diagnostics are logged again.
func (a *App) summarize(report *tracker.Report, interactive bool) error {
	if report == nil {
		return nil
	}
	if interactive {
		for _, d := range report.Diagnostics {
			a.logger.Error(d)
		}
	}
	a.logger.Info(report.String())
	return report.Err()
}

// render runs the renderer alongside fn. The renderer is stopped once fn returns unless keepOpen
// is set, in which case the user closes it.
func (a *App) render(ctx context.Context, renderer ports.Renderer, keepOpen bool, fn func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		return renderer.Wait()
	})

	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = zerr.With(zerr.New("build panicked"), "panic", fmt.Sprint(r))
			}
			if !keepOpen || err != nil {
				_ = renderer.Stop()
			}
		}()
		return fn(ctx)
	})

	err := g.Wait()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (a *App) load(s Settings) (*domain.Project, error) {
	project, err := a.loader.Load(a.dir)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to load configuration")
	}
	s.apply(project)
	return project, nil
}

// CleanOptions configuration for the Clean method.
type CleanOptions struct {
	// Blobs removes only the on-disk blob directory and keeps the graph database.
	Blobs bool
}

// Clean removes the project's kiln state.
func (a *App) Clean(_ context.Context, options CleanOptions) error {
	root := a.dir
	if project, err := a.loader.Load(a.dir); err == nil {
		root = project.Root
	}

	target, name := domain.DefaultKilnPath(), "kiln state"
	if options.Blobs {
		target, name = domain.DefaultBlobPath(), "blob directory"
	}
	path := joinRoot(root, target)

	a.logger.Info(fmt.Sprintf("removing %s...", name))
	if err := os.RemoveAll(path); err != nil {
		return zerr.With(zerr.Wrap(err, fmt.Sprintf("failed to remove %s", name)), "path", path)
	}
	a.logger.Info(fmt.Sprintf("removed %s", name))
	return nil
}
