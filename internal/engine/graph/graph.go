// Package graph implements the persistent request graph and the invalidation engine layered on it.
package graph

import (
	"maps"
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
)

type keySet map[string]struct{}

func (s keySet) add(k string) { s[k] = struct{}{} }

type node struct {
	key           string
	state         domain.NodeState
	resultRef     string
	result        []byte
	diagnostic    string
	invalidations []domain.Invalidation
	subrequests   []string
}

func (n *node) record() domain.NodeRecord {
	return domain.NodeRecord{
		Key:           n.key,
		State:         n.state,
		ResultRef:     n.resultRef,
		Diagnostic:    n.diagnostic,
		Invalidations: slices.Clone(n.invalidations),
		Subrequests:   slices.Clone(n.subrequests),
	}
}

// Edges is the set of edges recorded during one execution of a request.
type Edges struct {
	Invalidations []domain.Invalidation
	Subrequests   []string
}

// Graph is the arena of request nodes indexed by key, together with the reverse indexes the
// invalidation engine needs. Every mutation is recorded as a delta for the journal.
//
// Graph is not safe for concurrent use. The request tracker owns it and serialises access.
type Graph struct {
	nodes      map[string]*node
	dependents map[string]keySet

	files     map[string]*domain.FileNode
	byFile    map[string]keySet
	byPattern map[string]keySet
	byEnv     map[string]keySet
	byOption  map[string]keySet
	onStartup keySet
	onBuild   keySet

	env     map[string]string
	options map[string]string

	seq    uint64
	deltas []domain.GraphDelta
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]*node),
		dependents: make(map[string]keySet),
		files:      make(map[string]*domain.FileNode),
		byFile:     make(map[string]keySet),
		byPattern:  make(map[string]keySet),
		byEnv:      make(map[string]keySet),
		byOption:   make(map[string]keySet),
		onStartup:  make(keySet),
		onBuild:    make(keySet),
		env:        make(map[string]string),
		options:    make(map[string]string),
	}
}

// Len returns the number of request nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the record of the node stored under key.
func (g *Graph) Node(key string) (domain.NodeRecord, bool) {
	n, ok := g.nodes[key]
	if !ok {
		return domain.NodeRecord{}, false
	}
	return n.record(), true
}

// State returns the state of the node stored under key. Unknown keys are Incomplete.
func (g *Graph) State(key string) domain.NodeState {
	if n, ok := g.nodes[key]; ok {
		return n.state
	}
	return domain.StateIncomplete
}

// Result returns the committed result of a Valid node. data is nil when the result is only
// available through the content store under ref.
func (g *Graph) Result(key string) (data []byte, ref string, ok bool) {
	n, found := g.nodes[key]
	if !found || n.state != domain.StateValid {
		return nil, "", false
	}
	return n.result, n.resultRef, true
}

// Commit marks key Valid with the given result and replaces its edges.
func (g *Graph) Commit(key string, edges Edges, result []byte, ref string) {
	n := g.nodeFor(key)
	g.setEdges(n, edges)
	n.state = domain.StateValid
	n.result = result
	n.resultRef = ref
	n.diagnostic = ""
	g.putNode(n)
}

// Fail marks key Errored, discards its result and replaces its edges with those recorded
// before the failure.
func (g *Graph) Fail(key string, edges Edges, diagnostic string) {
	n := g.nodeFor(key)
	g.setEdges(n, edges)
	n.state = domain.StateErrored
	n.result = nil
	n.resultRef = ""
	n.diagnostic = diagnostic
	g.putNode(n)
}

// ForgetResult drops the in-memory copy of a node's result, keeping its content store reference.
func (g *Graph) ForgetResult(key string) {
	if n, ok := g.nodes[key]; ok {
		n.result = nil
	}
}

// Dependents returns the keys of the nodes that issued key as a subrequest.
func (g *Graph) Dependents(key string) []string {
	return slices.Sorted(maps.Keys(g.dependents[key]))
}

// Files returns the paths of every observed file.
func (g *Graph) Files() []string {
	return slices.Sorted(maps.Keys(g.files))
}

// File returns the last observation of path.
func (g *Graph) File(path string) (domain.FileNode, bool) {
	f, ok := g.files[path]
	if !ok {
		return domain.FileNode{}, false
	}
	return *f, true
}

func (g *Graph) nodeFor(key string) *node {
	n, ok := g.nodes[key]
	if !ok {
		n = &node{key: key}
		g.nodes[key] = n
	}
	return n
}

// setEdges replaces the edges of n and keeps the reverse indexes in sync.
func (g *Graph) setEdges(n *node, edges Edges) {
	g.unindex(n)
	n.invalidations = dedupInvalidations(edges.Invalidations)
	n.subrequests = dedupStrings(edges.Subrequests)
	g.index(n)
}

func (g *Graph) index(n *node) {
	for _, inv := range n.invalidations {
		switch inv.Kind {
		case domain.InvalidateOnFileChange:
			addTo(g.byFile, inv.Target, n.key)
		case domain.InvalidateOnFileCreate:
			addTo(g.byPattern, inv.Target, n.key)
		case domain.InvalidateOnEnvChange:
			addTo(g.byEnv, inv.Target, n.key)
		case domain.InvalidateOnOptionChange:
			addTo(g.byOption, inv.Target, n.key)
		case domain.InvalidateOnStartup:
			g.onStartup.add(n.key)
		case domain.InvalidateOnBuild:
			g.onBuild.add(n.key)
		}
	}
	for _, sub := range n.subrequests {
		addTo(g.dependents, sub, n.key)
	}
}

func (g *Graph) unindex(n *node) {
	for _, inv := range n.invalidations {
		switch inv.Kind {
		case domain.InvalidateOnFileChange:
			removeFrom(g.byFile, inv.Target, n.key)
		case domain.InvalidateOnFileCreate:
			removeFrom(g.byPattern, inv.Target, n.key)
		case domain.InvalidateOnEnvChange:
			removeFrom(g.byEnv, inv.Target, n.key)
		case domain.InvalidateOnOptionChange:
			removeFrom(g.byOption, inv.Target, n.key)
		case domain.InvalidateOnStartup:
			delete(g.onStartup, n.key)
		case domain.InvalidateOnBuild:
			delete(g.onBuild, n.key)
		}
	}
	for _, sub := range n.subrequests {
		removeFrom(g.dependents, sub, n.key)
	}
}

func addTo(idx map[string]keySet, target, key string) {
	s, ok := idx[target]
	if !ok {
		s = make(keySet)
		idx[target] = s
	}
	s.add(key)
}

func removeFrom(idx map[string]keySet, target, key string) {
	s, ok := idx[target]
	if !ok {
		return
	}
	delete(s, key)
	if len(s) == 0 {
		delete(idx, target)
	}
}

func dedupInvalidations(in []domain.Invalidation) []domain.Invalidation {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[domain.Invalidation]struct{}, len(in))
	out := make([]domain.Invalidation, 0, len(in))
	for _, inv := range in {
		if _, ok := seen[inv]; ok {
			continue
		}
		seen[inv] = struct{}{}
		out = append(out, inv)
	}
	return out
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
