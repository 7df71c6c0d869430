package pipeline

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/plugin"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)


// Target runs a project target. Its result is the target's action key, so dependents re-run
// exactly when something the command saw changed.
type Target struct {
	Name string
	p    *Pipeline
}

// Target returns the request for the named target.
func (p *Pipeline) Target(name string) *Target {
	return &Target{Name: name, p: p}
}

// Key implements tracker.Request.
func (t *Target) Key() string { return domain.NewRequestKey(domain.RequestTypeTarget, t.Name) }

// Type implements tracker.Request.
func (t *Target) Type() string { return domain.RequestTypeTarget }

func (t *Target) String() string { return domain.RequestTypeTarget + ":" + t.Name }

// action is everything a target's command can observe. Its content key is the action key.
type action struct {
	Cmd        []string          `msgpack:"cmd"`
	Env        map[string]string `msgpack:"env"`
	WorkingDir string            `msgpack:"dir"`
	Mode       string            `msgpack:"mode"`
	Inputs     Inputs            `msgpack:"inputs"`
	Deps       map[string]string `msgpack:"deps"`
}

// Run implements tracker.Request.
func (t *Target) Run(ctx context.Context, api tracker.API) error {
	api.InvalidateOnFileChange(t.p.ConfigPath())
	target, ok := t.p.project.Targets[t.Name]
	if !ok {
		return zerr.With(domain.ErrTargetNotFound, "target", t.Name)
	}

	for _, name := range target.Env {
		api.InvalidateOnEnvChange(name)
	}
	api.InvalidateOnOptionChange(OptionMode)
	if target.Always {
		api.InvalidateOnBuild()
	}
	if target.Volatile {
		api.InvalidateOnStartup()
	}

	act, err := t.gather(ctx, api, target)
	if err != nil {
		return err
	}
	encoded, err := encodeSorted(act)
	if err != nil {
		return err
	}
	key := domain.ActionKey(encoded)

	if len(target.Cmd) > 0 {
		if err := t.execute(ctx, api, target, act, key); err != nil {
			return err
		}
	}
	api.StoreResult([]byte(key))
	return nil
}

// gather runs the target's dependencies and resolves its inputs, all at once.
func (t *Target) gather(ctx context.Context, api tracker.API, target *domain.Target) (*action, error) {
	dir := target.WorkingDir
	if dir == "" {
		dir = t.p.project.Root
	}
	act := &action{
		Cmd:        target.Cmd,
		Env:        make(map[string]string, len(target.Env)),
		WorkingDir: t.p.rel(dir),
		Mode:       api.Option(OptionMode),
		Inputs:     make(Inputs),
		Deps:       make(map[string]string, len(target.DependsOn)),
	}
	for _, name := range target.Env {
		act.Env[name] = api.Env(name)
	}

	var (
		mu   sync.Mutex
		errs []error
		eg   errgroup.Group
	)
	eg.SetLimit(t.p.fanout)
	record := func(err error, apply func()) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		apply()
	}

	for _, dep := range target.DependsOn {
		eg.Go(func() error {
			data, err := api.RunRequest(ctx, t.p.Target(dep))
			record(err, func() { act.Deps[dep] = string(data) })
			return nil
		})
	}
	for _, input := range target.Inputs {
		var req tracker.Request = t.p.Resolve(dir, input)
		if hasMeta(input) {
			req = t.p.Glob(dir, input)
		}
		eg.Go(func() error {
			data, err := api.RunRequest(ctx, req)
			if err == nil {
				var in Inputs
				if in, err = DecodeInputs(data); err == nil {
					record(nil, func() { maps.Copy(act.Inputs, in) })
					return nil
				}
			}
			record(err, nil)
			return nil
		})
	}
	_ = eg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return act, nil
}

// execute runs the command unless the content store already holds a successful result for key.
func (t *Target) execute(ctx context.Context, api tracker.API, target *domain.Target, act *action, key string) error {
	store := api.Store()
	if data, found, err := store.GetBlob(ctx, key); err != nil {
		return err
	} else if found {
		var res domain.ExecResult
		if msgpack.Unmarshal(data, &res) == nil && res.ExitCode == 0 {
			return nil
		}
	}

	spec := domain.ExecSpec{
		Cmd:        act.Cmd,
		Env:        make(map[string]string, len(act.Env)),
		WorkingDir: target.WorkingDir,
	}
	if spec.WorkingDir == "" {
		spec.WorkingDir = t.p.project.Root
	}
	for name, value := range act.Env {
		if value != "" {
			spec.Env[name] = value
		}
	}
	payload, err := msgpack.Marshal(spec)
	if err != nil {
		return zerr.Wrap(err, "failed to encode exec spec")
	}

	data, err := api.RunTask(ctx, plugin.KindExec, payload)
	if err != nil {
		return err
	}
	var res domain.ExecResult
	if err := msgpack.Unmarshal(data, &res); err != nil {
		return zerr.Wrap(err, "failed to decode exec result")
	}
	if res.ExitCode != 0 {
		err := zerr.With(domain.ErrCommandFailed, "target", t.Name)
		return zerr.With(err, "exit_code", res.ExitCode)
	}

	store.SetBlob(ctx, key, data)
	return nil
}
