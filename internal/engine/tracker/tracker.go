// Package tracker implements the request tracker: it runs requests against the persistent request
// graph, reuses valid results, re-executes invalidated ones and commits what they produce.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/graph"
	"go.trai.ch/kiln/internal/engine/plugin"
	"go.trai.ch/kiln/internal/engine/workerpool"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCheckpointEvery is the delta-log length from which a build folds the log into a snapshot.
	DefaultCheckpointEvery = 1024
	// DefaultDigestThreshold is the number of recorded files from which the start-up rescan
	// fingerprints on the worker pool instead of in process.
	DefaultDigestThreshold = 512
	digestChunk            = 256
)

// TaskRunner executes worker tasks. *workerpool.Pool implements it.
type TaskRunner interface {
	Run(ctx context.Context, task domain.WorkerTask, listener workerpool.Listener) ([]byte, error)
	AdvanceEpoch(e uint64)
}

// Options configures a Tracker.
type Options struct {
	// Journal persists the graph. A nil journal keeps the graph in memory only.
	Journal ports.GraphJournal
	// Store holds committed results.
	Store ports.ContentStore
	// Fingerprinter hashes files for file-change edges.
	Fingerprinter ports.Fingerprinter
	// Tasks runs worker tasks issued through API.RunTask.
	Tasks   TaskRunner
	Logger  ports.Logger
	Tracer  ports.Tracer
	Metrics ports.Metrics
	// Glob lists the files matching a file-create pattern during the start-up rescan.
	// It defaults to doublestar.FilepathGlob.
	Glob func(pattern string) ([]string, error)
	// CheckpointEvery defaults to DefaultCheckpointEvery.
	CheckpointEvery int
	// DigestThreshold defaults to DefaultDigestThreshold. A negative value keeps hashing in process.
	DigestThreshold int
	// GC removes nodes unreachable from a build's roots when the build finishes.
	GC bool
}

// Tracker owns the request graph. Every graph mutation happens under its mutex.
type Tracker struct {
	mu sync.Mutex
	g  *graph.Graph

	journal         ports.GraphJournal
	store           ports.ContentStore
	fp              ports.Fingerprinter
	tasks           TaskRunner
	logger          ports.Logger
	tracer          ports.Tracer
	metrics         ports.Metrics
	checkpointEvery int
	digestThreshold int
	gc              bool

	epoch   uint64
	pending []domain.FileEvent
	// startup holds the causes fired while loading, reported by the first build.
	startup []domain.InvalidationCause
	active  *Build
	// dirty forces a checkpoint when deltas may have been lost.
	dirty bool
}

// New loads the persisted graph, fires start-up edges and reconciles the graph with file system
// changes made while no tracker was running.
func New(ctx context.Context, opts Options) (*Tracker, error) {
	if opts.Store == nil || opts.Fingerprinter == nil {
		return nil, zerr.New("tracker needs a content store and a fingerprinter")
	}
	t := &Tracker{
		journal:         opts.Journal,
		store:           opts.Store,
		fp:              opts.Fingerprinter,
		tasks:           opts.Tasks,
		logger:          opts.Logger,
		tracer:          opts.Tracer,
		metrics:         opts.Metrics,
		checkpointEvery: opts.CheckpointEvery,
		digestThreshold: opts.DigestThreshold,
		gc:              opts.GC,
	}
	if t.checkpointEvery <= 0 {
		t.checkpointEvery = DefaultCheckpointEvery
	}
	if t.digestThreshold == 0 {
		t.digestThreshold = DefaultDigestThreshold
	}
	glob := opts.Glob
	if glob == nil {
		glob = func(pattern string) ([]string, error) {
			return doublestar.FilepathGlob(pattern)
		}
	}

	g, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	t.g = g

	t.startup = g.ApplyStartup()
	events := g.Rescan(glob)
	t.startup = append(t.startup, g.ApplyEvents(events, t.prefetch(ctx, g.Files()))...)
	return t, nil
}

// prefetch fingerprints paths on the worker pool when there are enough of them. Paths a digest
// task could not cover fall back to the tracker's own fingerprinter.
func (t *Tracker) prefetch(ctx context.Context, paths []string) ports.Fingerprinter {
	if t.tasks == nil || t.digestThreshold < 0 || len(paths) < t.digestThreshold {
		return t.fp
	}

	sums := &prefetched{fallback: t.fp, sums: make(map[string]string, len(paths))}
	var g errgroup.Group
	for chunk := range slices.Chunk(paths, digestChunk) {
		g.Go(func() error {
			payload, err := msgpack.Marshal(chunk)
			if err != nil {
				return err
			}
			task := domain.WorkerTask{
				Key:     plugin.KindDigest + ":" + domain.ContentKey(payload),
				Kind:    plugin.KindDigest,
				Payload: payload,
			}
			data, err := t.tasks.Run(ctx, task, nil)
			if err != nil {
				return err
			}
			var got map[string]string
			if err := msgpack.Unmarshal(data, &got); err != nil {
				return zerr.Wrap(err, "failed to decode digest result")
			}
			sums.add(got)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.warn(fmt.Sprintf("worker digest of recorded files failed, hashing in process: %v", err))
	}
	return sums
}

// prefetched serves fingerprints computed ahead of time.
type prefetched struct {
	fallback ports.Fingerprinter

	mu   sync.Mutex
	sums map[string]string
}

func (p *prefetched) add(sums map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	maps.Copy(p.sums, sums)
}

func (p *prefetched) Fingerprint(path string) (string, error) {
	p.mu.Lock()
	sum, ok := p.sums[path]
	p.mu.Unlock()
	if ok {
		return sum, nil
	}
	return p.fallback.Fingerprint(path)
}

func (t *Tracker) load(ctx context.Context) (*graph.Graph, error) {
	if t.journal == nil {
		return graph.New(), nil
	}
	snap, deltas, err := t.journal.Load(ctx)
	if err == nil {
		var g *graph.Graph
		if g, err = graph.Restore(snap, deltas); err == nil {
			return g, nil
		}
	}
	if !errors.Is(err, domain.ErrJournalCorrupt) {
		return nil, err
	}
	// A corrupt journal costs a full rebuild, never a stale result.
	t.warn(fmt.Sprintf("discarding corrupt request graph: %v", err))
	t.dirty = true
	return graph.New(), nil
}

// Notify queues file system events. They are applied atomically when the next build starts.
func (t *Tracker) Notify(events ...domain.FileEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, events...)
}

// Pending returns the number of queued events.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// BuildInput is the environment a build runs in.
type BuildInput struct {
	// Roots names the top-level work of the build for telemetry.
	Roots []string
	// Env is the environment snapshot. Variables missing from it compare as empty.
	Env map[string]string
	// Options are the build options. Options missing from it compare as empty.
	Options map[string]string
}

// StartBuild begins a build under a new epoch. Queued events, env and option changes and build
// edges are applied before any request of the build runs.
func (t *Tracker) StartBuild(ctx context.Context, in BuildInput) (*Build, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrBuildInProgress, "cannot start build"), "build", t.active.id)
	}

	t.epoch++
	if t.tasks != nil {
		t.tasks.AdvanceEpoch(t.epoch)
	}

	causes := t.startup
	t.startup = nil
	causes = append(causes, t.g.ApplyEvents(t.pending, t.fp)...)
	t.pending = nil
	causes = append(causes, t.g.ApplyEnv(in.Env)...)
	causes = append(causes, t.g.ApplyOptions(in.Options)...)
	causes = append(causes, t.g.ApplyBuild()...)
	t.countInvalidations(causes)

	b := newBuild(ctx, t, in, causes)
	t.active = b
	if t.tracer != nil {
		t.tracer.EmitBuild(ctx, b.epoch, in.Roots)
	}
	return b, nil
}

func (t *Tracker) countInvalidations(causes []domain.InvalidationCause) {
	if t.metrics == nil || len(causes) == 0 {
		return
	}
	byKind := make(map[domain.InvalidationKind]int)
	for _, c := range causes {
		byKind[c.Trigger.Kind]++
	}
	for kind, n := range byKind {
		t.metrics.Invalidated(kind.String(), n)
	}
}

// persist appends the deltas of a finished build and checkpoints when the log is long enough.
func (t *Tracker) persist(ctx context.Context, deltas []domain.GraphDelta, snap *domain.GraphSnapshot) error {
	if t.journal == nil {
		return nil
	}
	if snap != nil {
		return t.journal.Checkpoint(ctx, *snap)
	}
	return t.journal.Append(ctx, deltas)
}

// Epoch returns the epoch of the latest build.
func (t *Tracker) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// State returns the state of the node stored under key.
func (t *Tracker) State(key string) domain.NodeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.g.State(key)
}

// Node returns the record of the node stored under key.
func (t *Tracker) Node(key string) (domain.NodeRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.g.Node(key)
}

// Stats describes the graph and its journal.
type Stats struct {
	graph.Stats
	// JournalLen is the number of deltas recorded since the last checkpoint.
	JournalLen int
	Epoch      uint64
}

// Stats returns node, edge and file counts.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{Stats: t.g.Stats(), Epoch: t.epoch}
	if t.journal != nil {
		s.JournalLen = t.journal.Len()
	}
	return s
}

// Checkpoint folds the journal into a snapshot of the current graph.
func (t *Tracker) Checkpoint(ctx context.Context) error {
	t.mu.Lock()
	if t.active != nil {
		t.mu.Unlock()
		return zerr.Wrap(domain.ErrBuildInProgress, "cannot checkpoint")
	}
	t.g.Deltas()
	snap := t.g.Snapshot()
	t.mu.Unlock()

	if t.journal == nil {
		return nil
	}
	return t.journal.Checkpoint(ctx, snap)
}

func (t *Tracker) warn(msg string) {
	if t.logger != nil {
		t.logger.Warn(msg)
	}
}
