package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.trai.ch/kiln/internal/adapters/detector"
	"go.trai.ch/kiln/internal/adapters/linear"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/adapters/tui"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

const metricsShutdownTimeout = 2 * time.Second

// view is the renderer of one command together with the tracer feeding it.
type view struct {
	renderer    ports.Renderer
	tracer      *telemetry.OTelTracer
	interactive bool
	shutdown    func(ctx context.Context)
}

// newView selects a renderer for mode and connects it to a tracer through an OTel bridge.
// Quitting an interactive renderer calls cancel.
func (a *App) newView(ctx context.Context, mode string, cancel func()) *view {
	v := &view{}
	// Modes are validated by the CLI; an unknown one falls back to detection.
	resolved, err := detector.Resolve(detector.Current(), mode)
	if err != nil {
		resolved = detector.Current().Detect()
	}
	if resolved == detector.ModeTUI {
		opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, a.teaOptions...)
		r := tui.NewRenderer(tui.NewModel(a.stderr), tui.WithProgramOptions(opts...))
		r.SetOnQuit(cancel)
		v.renderer = r
		v.interactive = true
	} else {
		v.renderer = linear.NewRenderer(a.stdout, a.stderr, linear.WithQuietPrefixes(linear.QuietPrefixes()...))
	}

	// Spans go to a provider of our own so that commands never share a global one.
	bridge := telemetry.NewBridge(v.renderer)
	provider := telemetry.NewTracerProvider(bridge)
	v.tracer = telemetry.NewOTelTracer("kiln", telemetry.WithTracerProvider(provider)).WithRenderer(v.renderer)
	v.shutdown = func(ctx context.Context) {
		ctx = context.WithoutCancel(ctx)
		_ = v.tracer.Shutdown(ctx)
		_ = provider.Shutdown(ctx)
	}
	return v
}

// serveMetrics exposes the Prometheus registry on addr until the returned function is called.
func (a *App) serveMetrics(ctx context.Context, addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	handled, ok := a.metrics.(interface{ Handler() http.Handler })
	if !ok {
		a.logger.Warn("metrics are disabled, ignoring the metrics address")
		return func() {}, nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to listen for metrics"), "addr", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handled.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(zerr.Wrap(err, "metrics server failed"))
		}
	}()
	a.logger.Info("serving metrics on http://" + ln.Addr().String() + "/metrics")

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}, nil
}

// environ snapshots the process environment.
func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok {
			env[name] = value
		}
	}
	return env
}

func joinRoot(root, rel string) string {
	return filepath.Join(root, rel)
}
