package plugin

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Built-in task kinds.
const (
	KindExec   = "exec"
	KindDigest = "digest"
)

// maxCapturedOutput bounds the command output kept in an ExecResult.
const maxCapturedOutput = 64 << 10

// Builtin returns a registry holding the built-in plugins.
func Builtin(executor ports.Executor, fp ports.Fingerprinter) *Registry {
	return NewRegistry(EngineVersion).MustRegister(Exec(executor), Digest(fp))
}

// Exec runs a domain.ExecSpec through executor. Output is streamed as log events and the tail
// is kept in the domain.ExecResult. A non-zero exit is a result, not a task failure.
func Exec(executor ports.Executor) Plugin {
	return Plugin{
		Kind:    KindExec,
		Engines: "^v1.0.0",
		Handle: func(ctx context.Context, payload []byte, emit Emitter) ([]byte, error) {
			var spec domain.ExecSpec
			if err := msgpack.Unmarshal(payload, &spec); err != nil {
				return nil, zerr.Wrap(err, "failed to decode exec spec")
			}

			out := &tailWriter{limit: maxCapturedOutput, emit: emit}
			code, err := executor.Execute(ctx, spec, out)
			if err != nil {
				return nil, err
			}
			return msgpack.Marshal(domain.ExecResult{Output: out.buf, ExitCode: code})
		},
	}
}

// Digest fingerprints a list of paths and returns a path to fingerprint map.
func Digest(fp ports.Fingerprinter) Plugin {
	return Plugin{
		Kind:    KindDigest,
		Engines: ">=v1.0.0 <v2.0.0",
		Handle: func(ctx context.Context, payload []byte, emit Emitter) ([]byte, error) {
			var paths []string
			if err := msgpack.Unmarshal(payload, &paths); err != nil {
				return nil, zerr.Wrap(err, "failed to decode digest paths")
			}

			sums := make(map[string]string, len(paths))
			for _, p := range paths {
				if err := ctx.Err(); err != nil {
					return nil, context.Cause(ctx)
				}
				sum, err := fp.Fingerprint(p)
				if err != nil {
					return nil, zerr.With(err, "path", p)
				}
				sums[p] = sum
				emit(domain.EventProgress, []byte(p))
			}
			return msgpack.Marshal(sums)
		},
	}
}

// tailWriter forwards every write as a log event and keeps the last limit bytes.
type tailWriter struct {
	limit int
	buf   []byte
	emit  Emitter
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.emit(domain.EventLog, append([]byte(nil), p...))
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}
