// Package shell provides the executor behind exec worker tasks.
package shell

import (
	"cmp"
	"context"
	"errors"
	"io"
	"maps"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/creack/pty"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Process represents a running command.
type Process interface {
	Wait() error
	Resize(rows, cols int) error
}

type ptyProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	ioDone <-chan struct{}
}

func (p *ptyProcess) Wait() error {
	err := p.cmd.Wait()
	// The copy loop ends once the pty drains after the child exits.
	<-p.ioDone
	return err
}

func (p *ptyProcess) Resize(rows, cols int) error {
	if rows > math.MaxUint16 || cols > math.MaxUint16 || rows < 0 || cols < 0 {
		return errors.New("terminal size out of bounds")
	}

	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
		X:    0,
		Y:    0,
	})
}

// pipeProcess runs without a terminal, when no pty can be allocated.
type pipeProcess struct {
	cmd *exec.Cmd
}

func (p *pipeProcess) Wait() error { return p.cmd.Wait() }

func (p *pipeProcess) Resize(int, int) error { return nil }

// Executor implements ports.Executor using os/exec and pty.
type Executor struct {
	logger ports.Logger
}

// NewExecutor creates a new Executor. The logger may be nil.
func NewExecutor(logger ports.Logger) *Executor {
	return &Executor{
		logger: logger,
	}
}

// Start launches the command of spec in a PTY, falling back to plain pipes when no PTY is
// available. Output of both streams goes to out.
func (e *Executor) Start(ctx context.Context, spec domain.ExecSpec, out io.Writer) (Process, error) {
	if len(spec.Cmd) == 0 {
		return nil, zerr.Wrap(domain.ErrConfigInvalid, "empty command")
	}

	name := spec.Cmd[0]
	env := resolveEnvironment(os.Environ(), spec.Env)

	executable := name
	if !filepath.IsAbs(name) && !strings.ContainsRune(name, filepath.Separator) {
		lp, err := lookPath(name, env)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "command not found"), "command", name)
		}
		executable = lp
	}

	cmd := command(ctx, executable, spec, env)
	ptmx, err := pty.Start(cmd)
	if err == nil {
		ioDone := make(chan struct{})
		go func() {
			defer close(ioDone)
			defer func() { _ = ptmx.Close() }()
			// The pty merges stdout and stderr.
			_, _ = io.Copy(out, ptmx)
		}()
		return &ptyProcess{cmd: cmd, ptmx: ptmx, ioDone: ioDone}, nil
	}
	if cmd.Process != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to start command"), "command", name)
	}

	e.warn("no pty available, running " + name + " with pipes: " + err.Error())
	cmd = command(ctx, executable, spec, env)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to start command"), "command", name)
	}
	return &pipeProcess{cmd: cmd}, nil
}

// Execute runs the command of spec and waits for it. A command that runs and exits non-zero is
// not an error: its exit code is returned with a nil error. Failing to start or being cancelled
// returns -1 and an error.
func (e *Executor) Execute(ctx context.Context, spec domain.ExecSpec, out io.Writer) (int, error) {
	proc, err := e.Start(ctx, spec, out)
	if err != nil {
		return -1, err
	}

	err = proc.Wait()
	if ctx.Err() != nil {
		return -1, zerr.Wrap(context.Cause(ctx), "command interrupted")
	}
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, zerr.With(zerr.Wrap(err, "command failed"), "command", spec.Cmd[0])
}

// command builds the process for spec. argv[0] stays the name the user wrote.
func command(ctx context.Context, executable string, spec domain.ExecSpec, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, executable, spec.Cmd[1:]...) //nolint:gosec // user provided command
	cmd.Args[0] = spec.Cmd[0]
	cmd.Dir = spec.WorkingDir
	cmd.Env = env
	return cmd
}

func (e *Executor) warn(msg string) {
	if e.logger != nil {
		e.logger.Warn(msg)
	}
}

// allowListedEnvVars are the system environment variables inherited by commands. Everything
// else must be passed explicitly so that results only depend on declared inputs.
var allowListedEnvVars = map[string]struct{}{
	"HOME": {},
	"TERM": {},
	"USER": {},
	"PATH": {},
}

// resolveEnvironment layers the command environment over the allow-listed system environment.
// The result is sorted by variable name, so the same inputs always give the same environment.
func resolveEnvironment(sysEnv []string, specEnv map[string]string) []string {
	vars := make(map[string]string, len(allowListedEnvVars)+len(specEnv))
	for _, entry := range sysEnv {
		k, v, ok := strings.Cut(entry, "=")
		if _, allowed := allowListedEnvVars[k]; ok && allowed {
			vars[k] = v
		}
	}
	maps.Copy(vars, specEnv)

	result := make([]string, 0, len(vars))
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		result = append(result, k+"="+vars[k])
	}
	return result
}

// lookPath resolves file against the PATH of env, not of the kiln process, so that a
// declared PATH decides which tool runs. An empty PATH element means the working directory.
func lookPath(file string, env []string) (string, error) {
	var dirs string
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			dirs = v
		}
	}
	if dirs == "" {
		return "", exec.ErrNotFound
	}

	for dir := range strings.SplitSeq(dirs, string(filepath.ListSeparator)) {
		candidate := filepath.Join(cmp.Or(dir, "."), file)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", exec.ErrNotFound
}
