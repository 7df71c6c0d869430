package logger_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/zerr"
)

// newTestLogger returns a logger writing to a buffer. NO_COLOR keeps the output free of
// escape codes.
func newTestLogger(t *testing.T) (*logger.Logger, *bytes.Buffer) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")

	buf := &bytes.Buffer{}
	lg := logger.New().(*logger.Logger)
	lg.SetOutput(buf)
	return lg, buf
}

func TestLogger_Pretty(t *testing.T) {
	tests := []struct {
		golden string
		log    func(l *logger.Logger)
	}{
		{
			golden: "info_report",
			log: func(l *logger.Logger) {
				l.Info("build 3: 2 executed, 5 cached, 0 errored, 1 invalidated in 1.2s")
			},
		},
		{golden: "info_empty", log: func(l *logger.Logger) { l.Info("") }},
		{golden: "warn_reload", log: func(l *logger.Logger) { l.Warn("kiln.yaml changed, reloading") }},
		{
			golden: "warn_multiline",
			log:    func(l *logger.Logger) { l.Warn("remote cache unavailable\nfalling back to local") },
		},
		{golden: "error_simple", log: func(l *logger.Logger) { l.Error(os.ErrPermission) }},
		{
			golden: "error_multiline",
			log: func(l *logger.Logger) {
				l.Error(errors.New("yaml: unmarshal errors:\n  line 4: cannot unmarshal !!str `x` into int"))
			},
		},
		{
			golden: "error_chain",
			log: func(l *logger.Logger) {
				l.Error(zerr.Wrap(zerr.Wrap(io.ErrUnexpectedEOF, "failed to decode journal delta"), "failed to load graph"))
			},
		},
		{
			golden: "error_metadata",
			log: func(l *logger.Logger) {
				err := zerr.Wrap(errors.New("connection refused"), "remote cache unreachable")
				err = zerr.With(err, "url", "http://cache:7878")
				l.Error(zerr.With(err, "backend", "http"))
			},
		},
		{
			golden: "error_metadata_partial",
			log: func(l *logger.Logger) {
				inner := zerr.With(zerr.New("target not found"), "target", "app")
				l.Error(zerr.With(zerr.Wrap(inner, "failed to resolve build"), "epoch", 4))
			},
		},
		{
			// fmt.Errorf chains are printed as one message.
			golden: "error_stdlib",
			log: func(l *logger.Logger) {
				l.Error(fmt.Errorf("worker 2: %w", fmt.Errorf("read frame: %w", io.ErrUnexpectedEOF)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			lg, buf := newTestLogger(t)
			tt.log(lg)

			g := goldie.New(t)
			g.Assert(t, tt.golden, buf.Bytes())
		})
	}
}

func TestLogger_Error_Nil(t *testing.T) {
	lg, buf := newTestLogger(t)
	lg.Error(nil)

	assert.Empty(t, buf.String())
}

func TestLogger_Error_DiagnosticMetadata(t *testing.T) {
	lg, buf := newTestLogger(t)

	// Metadata attached to a standard error is rendered under that error.
	err := zerr.With(zerr.With(errors.New("exit status 2"), "request", "target:app"), "type", "target")
	lg.Error(err)

	assert.Equal(t, "✗ Error: exit status 2\n       request: target:app\n       type: target\n", buf.String())
}

func TestLogger_SetJSON(t *testing.T) {
	lg, buf := newTestLogger(t)

	lg.Error(errors.New("pretty"))
	assert.Contains(t, buf.String(), "✗ Error: pretty")
	buf.Reset()

	lg.SetJSON(true)
	lg.Error(zerr.With(zerr.Wrap(errors.New("disk full"), "failed to write blob"), "key", "ab12"))
	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"error"`)
	assert.Contains(t, out, "failed to write blob")
	assert.Contains(t, out, "ab12")
	assert.NotContains(t, out, "✗")
	buf.Reset()

	lg.SetJSON(false)
	lg.Warn("back")
	assert.Equal(t, "! back\n", buf.String())
}

func TestLogger_SetOutput_Nil(t *testing.T) {
	require.NotPanics(t, func() {
		lg := logger.New().(*logger.Logger)
		lg.SetOutput(nil)
	})
}

func TestLogger_SetLevel(t *testing.T) {
	lg, buf := newTestLogger(t)
	lg.SetLevel(slog.LevelWarn)

	lg.Info("hidden")
	lg.Warn("shown")

	assert.Equal(t, "! shown\n", buf.String())
}

func TestLogger_Slog(t *testing.T) {
	lg, buf := newTestLogger(t)

	lg.Slog().Info("from slog", "component", "badger")

	assert.Equal(t, "from slog component=badger\n", buf.String())
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	lg, _ := newTestLogger(t)

	var wg sync.WaitGroup
	wg.Go(func() { lg.Info("concurrent info") })
	wg.Go(func() { lg.Warn("concurrent warn") })
	wg.Go(func() { lg.Error(errors.New("concurrent error")) })
	wg.Go(func() { lg.SetJSON(true) })
	wg.Go(func() { lg.SetJSON(false) })
	wg.Go(func() { lg.SetOutput(&bytes.Buffer{}) })
	wg.Wait()
}
