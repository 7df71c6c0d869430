package graph

import (
	"maps"
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
)

// Collect removes every node that cannot be reached from roots through subrequest edges, and
// every file no remaining node watches. It returns the removed node keys.
func (g *Graph) Collect(roots []string) []string {
	reachable := make(map[string]struct{}, len(g.nodes))
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := reachable[key]; ok {
			continue
		}
		n, ok := g.nodes[key]
		if !ok {
			continue
		}
		reachable[key] = struct{}{}
		stack = append(stack, n.subrequests...)
	}

	var removed []string
	for _, key := range slices.Sorted(maps.Keys(g.nodes)) {
		if _, ok := reachable[key]; ok {
			continue
		}
		g.unindex(g.nodes[key])
		delete(g.nodes, key)
		g.deleteNode(key)
		removed = append(removed, key)
	}

	for _, path := range slices.Sorted(maps.Keys(g.files)) {
		if _, watched := g.byFile[path]; watched {
			continue
		}
		delete(g.files, path)
		g.deleteFile(path)
	}
	return removed
}

// Stats summarises the graph.
type Stats struct {
	Nodes int
	// States counts nodes by state.
	States map[domain.NodeState]int
	// Edges counts edges by kind, including subrequest edges.
	Edges map[domain.InvalidationKind]int
	Files int
}

// Stats returns node, edge and file counts.
func (g *Graph) Stats() Stats {
	s := Stats{
		Nodes:  len(g.nodes),
		States: make(map[domain.NodeState]int),
		Edges:  make(map[domain.InvalidationKind]int),
		Files:  len(g.files),
	}
	for _, n := range g.nodes {
		s.States[n.state]++
		for _, inv := range n.invalidations {
			s.Edges[inv.Kind]++
		}
		s.Edges[domain.InvalidateBySubrequest] += len(n.subrequests)
	}
	return s
}
