package graph

import (
	"maps"
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Seq returns the sequence number of the last recorded delta.
func (g *Graph) Seq() uint64 {
	return g.seq
}

// Deltas returns the deltas recorded since the last call and clears them.
func (g *Graph) Deltas() []domain.GraphDelta {
	out := g.deltas
	g.deltas = nil
	return out
}

// Snapshot returns a full image of the graph. In-memory result copies are not part of it.
func (g *Graph) Snapshot() domain.GraphSnapshot {
	snap := domain.GraphSnapshot{
		Seq:     g.seq,
		Nodes:   make([]domain.NodeRecord, 0, len(g.nodes)),
		Files:   make([]domain.FileNode, 0, len(g.files)),
		Env:     maps.Clone(g.env),
		Options: maps.Clone(g.options),
	}
	for _, key := range slices.Sorted(maps.Keys(g.nodes)) {
		snap.Nodes = append(snap.Nodes, g.nodes[key].record())
	}
	for _, path := range slices.Sorted(maps.Keys(g.files)) {
		snap.Files = append(snap.Files, *g.files[path])
	}
	return snap
}

// Restore rebuilds a graph from a snapshot and the deltas recorded after it.
// Deltas at or below the snapshot's sequence number are skipped.
func Restore(snap domain.GraphSnapshot, deltas []domain.GraphDelta) (*Graph, error) {
	g := New()
	for i := range snap.Nodes {
		g.applyNode(snap.Nodes[i])
	}
	for _, f := range snap.Files {
		g.files[f.Path] = &domain.FileNode{Path: f.Path, Fingerprint: f.Fingerprint}
	}
	maps.Copy(g.env, snap.Env)
	maps.Copy(g.options, snap.Options)
	g.seq = snap.Seq

	for _, d := range deltas {
		if d.Seq <= g.seq {
			continue
		}
		if err := g.apply(d); err != nil {
			return nil, err
		}
		g.seq = d.Seq
	}
	return g, nil
}

func (g *Graph) apply(d domain.GraphDelta) error {
	switch d.Op {
	case domain.DeltaPutNode:
		if d.Node == nil {
			return malformed(d)
		}
		g.applyNode(*d.Node)
	case domain.DeltaDeleteNode:
		if n, ok := g.nodes[d.Key]; ok {
			g.unindex(n)
			delete(g.nodes, d.Key)
		}
	case domain.DeltaPutFile:
		if d.File == nil {
			return malformed(d)
		}
		g.files[d.File.Path] = &domain.FileNode{Path: d.File.Path, Fingerprint: d.File.Fingerprint}
	case domain.DeltaDeleteFile:
		delete(g.files, d.Key)
	case domain.DeltaPutEnv:
		g.env[d.Key] = d.Value
	case domain.DeltaPutOption:
		g.options[d.Key] = d.Value
	default:
		return malformed(d)
	}
	return nil
}

func (g *Graph) applyNode(rec domain.NodeRecord) {
	n := g.nodeFor(rec.Key)
	g.unindex(n)
	n.state = rec.State
	n.resultRef = rec.ResultRef
	n.result = nil
	n.diagnostic = rec.Diagnostic
	n.invalidations = slices.Clone(rec.Invalidations)
	n.subrequests = slices.Clone(rec.Subrequests)
	g.index(n)
}

func malformed(d domain.GraphDelta) error {
	err := zerr.Wrap(domain.ErrJournalCorrupt, "malformed graph delta")
	return zerr.With(zerr.With(err, "seq", d.Seq), "op", uint8(d.Op))
}

func (g *Graph) record(d domain.GraphDelta) {
	g.seq++
	d.Seq = g.seq
	g.deltas = append(g.deltas, d)
}

func (g *Graph) putNode(n *node) {
	rec := n.record()
	g.record(domain.GraphDelta{Op: domain.DeltaPutNode, Node: &rec})
}

func (g *Graph) deleteNode(key string) {
	g.record(domain.GraphDelta{Op: domain.DeltaDeleteNode, Key: key})
}

func (g *Graph) putFile(f *domain.FileNode) {
	cp := *f
	g.record(domain.GraphDelta{Op: domain.DeltaPutFile, File: &cp})
}

func (g *Graph) deleteFile(path string) {
	g.record(domain.GraphDelta{Op: domain.DeltaDeleteFile, Key: path})
}
