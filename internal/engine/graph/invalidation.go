package graph

import (
	"maps"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
)

// ObserveFile records the fingerprint of path as seen when a file-change edge is created.
// An existing observation is kept: only the invalidation engine moves a file's fingerprint, so
// a change that happens mid-build is still detected when its event is applied.
func (g *Graph) ObserveFile(path, fingerprint string) {
	if _, ok := g.files[path]; ok {
		return
	}
	f := &domain.FileNode{Path: path, Fingerprint: fingerprint}
	g.files[path] = f
	g.putFile(f)
}

// ObserveEnv records the value of an environment variable seen when an env-change edge is created.
func (g *Graph) ObserveEnv(name, value string) {
	if cur, ok := g.env[name]; ok && cur == value {
		return
	}
	g.env[name] = value
	g.record(domain.GraphDelta{Op: domain.DeltaPutEnv, Key: name, Value: value})
}

// ObserveOption records the value of a build option seen when an option-change edge is created.
func (g *Graph) ObserveOption(name, value string) {
	if cur, ok := g.options[name]; ok && cur == value {
		return
	}
	g.options[name] = value
	g.record(domain.GraphDelta{Op: domain.DeltaPutOption, Key: name, Value: value})
}

// ApplyEvents applies a batch of file system events.
// Updates and deletes fire file-change edges only when the content fingerprint differs from the
// last observation. Creates additionally fire every file-create edge whose pattern matches.
func (g *Graph) ApplyEvents(events []domain.FileEvent, fp ports.Fingerprinter) []domain.InvalidationCause {
	var causes []domain.InvalidationCause
	for _, ev := range events {
		if ev.Kind == domain.FileCreated {
			causes = append(causes, g.fileCreated(ev.Path)...)
		}
		causes = append(causes, g.fileChanged(ev, fp)...)
	}
	return causes
}

func (g *Graph) fileCreated(path string) []domain.InvalidationCause {
	var causes []domain.InvalidationCause
	for _, pattern := range slices.Sorted(maps.Keys(g.byPattern)) {
		if !matchPattern(pattern, path) {
			continue
		}
		trigger := domain.Invalidation{Kind: domain.InvalidateOnFileCreate, Target: pattern}
		causes = append(causes, g.fire(g.byPattern[pattern], trigger)...)
	}
	return causes
}

func (g *Graph) fileChanged(ev domain.FileEvent, fp ports.Fingerprinter) []domain.InvalidationCause {
	f, ok := g.files[ev.Path]
	if !ok {
		return nil
	}

	next := ""
	if ev.Kind != domain.FileDeleted {
		sum, err := fp.Fingerprint(ev.Path)
		if err != nil {
			// An unreadable file is treated as absent so it fires now and again once readable.
			sum = ""
		}
		next = sum
	}
	if next == f.Fingerprint {
		return nil
	}

	f.Fingerprint = next
	g.putFile(f)
	trigger := domain.Invalidation{Kind: domain.InvalidateOnFileChange, Target: ev.Path}
	return g.fire(g.byFile[ev.Path], trigger)
}

func matchPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}
	ok, err := doublestar.PathMatch(pattern, path)
	return err == nil && ok
}

// ApplyEnv fires env-change edges whose variable differs from the value recorded when the edge
// was created. Unset variables compare as empty.
func (g *Graph) ApplyEnv(env map[string]string) []domain.InvalidationCause {
	return g.applyValues(g.byEnv, g.env, env, domain.InvalidateOnEnvChange, domain.DeltaPutEnv)
}

// ApplyOptions fires option-change edges whose option differs from the recorded value.
func (g *Graph) ApplyOptions(options map[string]string) []domain.InvalidationCause {
	return g.applyValues(g.byOption, g.options, options, domain.InvalidateOnOptionChange, domain.DeltaPutOption)
}

func (g *Graph) applyValues(
	idx map[string]keySet,
	recorded, current map[string]string,
	kind domain.InvalidationKind,
	op domain.DeltaOp,
) []domain.InvalidationCause {
	var causes []domain.InvalidationCause
	for _, name := range slices.Sorted(maps.Keys(idx)) {
		cur := current[name]
		if recorded[name] == cur {
			continue
		}
		recorded[name] = cur
		g.record(domain.GraphDelta{Op: op, Key: name, Value: cur})
		causes = append(causes, g.fire(idx[name], domain.Invalidation{Kind: kind, Target: name})...)
	}
	return causes
}

// ApplyStartup fires every startup edge.
func (g *Graph) ApplyStartup() []domain.InvalidationCause {
	return g.fire(g.onStartup, domain.Invalidation{Kind: domain.InvalidateOnStartup})
}

// ApplyBuild fires every build edge.
func (g *Graph) ApplyBuild() []domain.InvalidationCause {
	return g.fire(g.onBuild, domain.Invalidation{Kind: domain.InvalidateOnBuild})
}

// Invalidate fires trigger on key directly.
func (g *Graph) Invalidate(key string, trigger domain.Invalidation) []domain.InvalidationCause {
	return g.fire(keySet{key: {}}, trigger)
}

// Rescan returns the events needed to reconcile the graph with a file system that may have
// changed while no watcher was running: an update for every observed file, and a create for every
// path that matches a file-create pattern but has never been observed.
func (g *Graph) Rescan(glob func(pattern string) ([]string, error)) []domain.FileEvent {
	events := make([]domain.FileEvent, 0, len(g.files))
	for _, path := range g.Files() {
		events = append(events, domain.FileEvent{Kind: domain.FileUpdated, Path: path})
	}

	seen := make(map[string]struct{})
	for _, pattern := range slices.Sorted(maps.Keys(g.byPattern)) {
		matches, err := glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if _, observed := g.files[m]; observed {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			events = append(events, domain.FileEvent{Kind: domain.FileCreated, Path: m})
		}
	}
	return events
}

// fire moves the given nodes and all of their transitive dependents to Invalid in one pass
// along reverse subrequest edges. Incomplete nodes are left alone but still propagate.
func (g *Graph) fire(keys keySet, trigger domain.Invalidation) []domain.InvalidationCause {
	if len(keys) == 0 {
		return nil
	}

	type item struct {
		key     string
		trigger domain.Invalidation
	}

	var causes []domain.InvalidationCause
	visited := make(map[string]struct{}, len(keys))
	queue := make([]item, 0, len(keys))
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		visited[k] = struct{}{}
		queue = append(queue, item{key: k, trigger: trigger})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		n, ok := g.nodes[cur.key]
		if !ok {
			continue
		}
		if n.state == domain.StateValid || n.state == domain.StateErrored {
			n.state = domain.StateInvalid
			n.result = nil
			g.putNode(n)
			causes = append(causes, domain.InvalidationCause{RequestKey: cur.key, Trigger: cur.trigger})
		}

		for _, dep := range g.Dependents(cur.key) {
			if _, ok := visited[dep]; ok {
				continue
			}
			visited[dep] = struct{}{}
			queue = append(queue, item{
				key:     dep,
				trigger: domain.Invalidation{Kind: domain.InvalidateBySubrequest, Target: cur.key},
			})
		}
	}
	return causes
}
