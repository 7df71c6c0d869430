package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// WorkerCommand is the subcommand a worker process is started with.
const WorkerCommand = "worker"

// Spawner starts worker processes by re-executing a binary.
type Spawner struct {
	exe    string
	args   []string
	env    []string
	dir    string
	stderr io.Writer

	seq atomic.Uint64
}

// SpawnerOption configures a Spawner.
type SpawnerOption func(*Spawner)

// WithCommand replaces the executable and arguments.
func WithCommand(exe string, args ...string) SpawnerOption {
	return func(s *Spawner) {
		s.exe = exe
		s.args = args
	}
}

// WithEnv appends KEY=VALUE entries to the worker environment.
func WithEnv(env ...string) SpawnerOption {
	return func(s *Spawner) {
		s.env = append(s.env, env...)
	}
}

// WithDir sets the worker working directory.
func WithDir(dir string) SpawnerOption {
	return func(s *Spawner) {
		s.dir = dir
	}
}

// WithStderr sets where worker stderr is copied.
func WithStderr(w io.Writer) SpawnerOption {
	return func(s *Spawner) {
		s.stderr = w
	}
}

// NewSpawner creates a spawner that runs "<current executable> worker" by default.
func NewSpawner(opts ...SpawnerOption) (*Spawner, error) {
	s := &Spawner{args: []string{WorkerCommand}, stderr: os.Stderr}
	for _, opt := range opts {
		opt(s)
	}
	if s.exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, zerr.Wrap(err, "failed to determine executable path")
		}
		s.exe = exe
	}
	return s, nil
}

// Spawn starts a worker and waits for its ready message.
func (s *Spawner) Spawn(ctx context.Context) (ports.WorkerConn, error) {
	//nolint:gosec // G204: executable and arguments are set by the caller, not user input
	cmd := exec.Command(s.exe, s.args...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Stderr = s.stderr
	// Own process group, so a terminal interrupt reaches the orchestrator only.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrWorkerSpawnFailed.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrWorkerSpawnFailed.Error())
	}
	if err := cmd.Start(); err != nil {
		return nil, zerr.With(zerr.Wrap(errors.Join(domain.ErrWorkerSpawnFailed, err), "failed to start worker"), "exe", s.exe)
	}

	conn := &Conn{
		id:     fmt.Sprintf("worker-%d", s.seq.Add(1)),
		cmd:    cmd,
		stdin:  stdin,
		stream: NewStream(stdout, stdin),
	}

	ready := make(chan error, 1)
	go func() {
		msg, err := conn.Recv()
		switch {
		case err != nil:
			ready <- err
		case msg.Event != domain.EventReady:
			ready <- zerr.With(zerr.Wrap(domain.ErrWorkerProtocol, "expected ready message"), "event", msg.Event)
		default:
			ready <- nil
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			_ = conn.Kill()
			_ = conn.Wait()
			return nil, zerr.Wrap(errors.Join(domain.ErrWorkerSpawnFailed, err), "worker did not start")
		}
		return conn, nil
	case <-ctx.Done():
		_ = conn.Kill()
		_ = conn.Wait()
		return nil, context.Cause(ctx)
	}
}

// Conn is the parent side of a worker process. It implements ports.WorkerConn.
type Conn struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.Closer
	stream *Stream

	waitOnce sync.Once
	waitErr  error
}

// ID implements ports.WorkerConn.
func (c *Conn) ID() string {
	return c.id
}

// Send implements ports.WorkerConn.
func (c *Conn) Send(msg domain.Message) error {
	if err := c.stream.Send(msg); err != nil {
		return zerr.With(errors.Join(domain.ErrWorkerCrashed, err), "worker", c.id)
	}
	return nil
}

// Recv implements ports.WorkerConn. Once the worker's stdout closes it waits for the process and
// returns an error wrapping domain.ErrWorkerCrashed.
func (c *Conn) Recv() (domain.Message, error) {
	msg, err := c.stream.Recv()
	if err == nil {
		return msg, nil
	}
	if errors.Is(err, io.EOF) {
		waitErr := c.Wait()
		crash := zerr.With(zerr.Wrap(domain.ErrWorkerCrashed, "worker exited"), "worker", c.id)
		if waitErr != nil {
			crash = zerr.With(crash, "exit", waitErr.Error())
		}
		return domain.Message{}, crash
	}
	return domain.Message{}, err
}

// Close closes the worker's stdin, which asks it to exit once idle.
func (c *Conn) Close() error {
	return c.stdin.Close()
}

// Kill implements ports.WorkerConn.
func (c *Conn) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	err := c.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait implements ports.WorkerConn.
func (c *Conn) Wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}
