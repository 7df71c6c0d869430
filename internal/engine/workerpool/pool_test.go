package workerpool_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/ipc"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/plugin"
	"go.trai.ch/kiln/internal/engine/workerpool"
	"go.uber.org/mock/gomock"
)

const workerEnv = "KILN_TEST_WORKER"

// TestMain doubles as the worker binary: the pool under test re-executes this test binary with
// workerEnv set.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		if err := workerpool.Serve(context.Background(), ipc.NewStream(os.Stdin, os.Stdout), testRegistry()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testRegistry() *plugin.Registry {
	return plugin.NewRegistry(plugin.EngineVersion).MustRegister(
		plugin.Plugin{Kind: "echo", Handle: func(_ context.Context, payload []byte, _ plugin.Emitter) ([]byte, error) {
			return payload, nil
		}},
		plugin.Plugin{Kind: "fail", Handle: func(context.Context, []byte, plugin.Emitter) ([]byte, error) {
			return nil, errors.New("bad input")
		}},
		plugin.Plugin{Kind: "progress", Handle: func(_ context.Context, _ []byte, emit plugin.Emitter) ([]byte, error) {
			emit(domain.EventProgress, []byte("1/2"))
			emit(domain.EventProgress, []byte("2/2"))
			return []byte("done"), nil
		}},
		plugin.Plugin{Kind: "crash", Handle: func(context.Context, []byte, plugin.Emitter) ([]byte, error) {
			os.Exit(3)
			return nil, nil
		}},
		// flaky crashes the first time it sees the marker path in its payload.
		plugin.Plugin{Kind: "flaky", Handle: func(_ context.Context, payload []byte, _ plugin.Emitter) ([]byte, error) {
			if _, err := os.Stat(string(payload)); err != nil {
				_ = os.WriteFile(string(payload), nil, 0o600)
				os.Exit(3)
			}
			return []byte("recovered"), nil
		}},
		plugin.Plugin{Kind: "block", Handle: func(ctx context.Context, _ []byte, _ plugin.Emitter) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		// slow appends a line to the file named by its payload, then takes a while.
		plugin.Plugin{Kind: "slow", Handle: func(_ context.Context, payload []byte, _ plugin.Emitter) ([]byte, error) {
			f, err := os.OpenFile(string(payload), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, err
			}
			_, _ = f.WriteString("run\n")
			_ = f.Close()
			time.Sleep(300 * time.Millisecond)
			return []byte("slow"), nil
		}},
	)
}

// countingSpawner counts worker processes.
type countingSpawner struct {
	inner   ports.WorkerSpawner
	spawned atomic.Int32
}

func (s *countingSpawner) Spawn(ctx context.Context) (ports.WorkerConn, error) {
	s.spawned.Add(1)
	return s.inner.Spawn(ctx)
}

func newPool(t *testing.T, opts workerpool.Options) (*workerpool.Pool, *countingSpawner) {
	t.Helper()

	inner, err := ipc.NewSpawner(
		ipc.WithCommand(os.Args[0], "-test.run=^$"),
		ipc.WithEnv(workerEnv+"=1"),
		ipc.WithStderr(io.Discard),
	)
	require.NoError(t, err)

	spawner := &countingSpawner{inner: inner}
	opts.Spawner = spawner
	if opts.Size == 0 {
		opts.Size = 1
	}
	opts.RespawnEvery = time.Millisecond

	pool := workerpool.New(opts)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, spawner
}

func task(kind, key string, payload []byte) domain.WorkerTask {
	return domain.WorkerTask{Key: key, Kind: kind, Payload: payload, Epoch: 1}
}

func TestPool_Run(t *testing.T) {
	t.Parallel()

	pool, spawner := newPool(t, workerpool.Options{})
	ctx := context.Background()

	for i := range 3 {
		payload := []byte(fmt.Sprintf("hello-%d", i))
		data, err := pool.Run(ctx, task("echo", string(payload), payload), nil)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	}
	assert.Equal(t, int32(1), spawner.spawned.Load(), "the idle worker is reused")
}

func TestPool_TaskFailure(t *testing.T) {
	t.Parallel()

	pool, spawner := newPool(t, workerpool.Options{})
	ctx := context.Background()

	_, err := pool.Run(ctx, task("fail", "f", nil), nil)
	require.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.Contains(t, err.Error(), "bad input")

	_, err = pool.Run(ctx, task("nope", "n", nil), nil)
	require.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.Contains(t, err.Error(), domain.ErrUnknownTaskKind.Error())

	data, err := pool.Run(ctx, task("echo", "e", []byte("ok")), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(1), spawner.spawned.Load(), "task failures do not cost the worker")
}

func TestPool_ForwardsProgress(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		poolSeen []string
	)
	pool, _ := newPool(t, workerpool.Options{
		OnEvent: func(_ domain.WorkerTask, msg domain.Message) {
			mu.Lock()
			defer mu.Unlock()
			poolSeen = append(poolSeen, string(msg.Data))
		},
	})

	var callSeen []string
	data, err := pool.Run(context.Background(), task("progress", "p", nil), func(msg domain.Message) {
		assert.Equal(t, domain.EventProgress, msg.Event)
		callSeen = append(callSeen, string(msg.Data))
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), data)
	assert.Equal(t, []string{"1/2", "2/2"}, callSeen)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1/2", "2/2"}, poolSeen)
}

func TestPool_CrashIsRedispatchedOnce(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	metrics := mocks.NewMockMetrics(ctrl)
	metrics.EXPECT().WorkerCrashed().Times(1)

	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn(gomock.Any()).Times(1)

	pool, spawner := newPool(t, workerpool.Options{Metrics: metrics, Logger: log})
	marker := filepath.Join(t.TempDir(), "crashed-once")

	data, err := pool.Run(context.Background(), task("flaky", "flaky", []byte(marker)), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), data)
	assert.Equal(t, int32(2), spawner.spawned.Load(), "the crashed worker is replaced")
}

func TestPool_SecondCrashIsFatal(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	metrics := mocks.NewMockMetrics(ctrl)
	metrics.EXPECT().WorkerCrashed().Times(2)

	pool, spawner := newPool(t, workerpool.Options{Metrics: metrics})

	_, err := pool.Run(context.Background(), task("crash", "crash", nil), nil)
	require.ErrorIs(t, err, domain.ErrWorkerCrashedTwice)
	require.ErrorIs(t, err, domain.ErrWorkerCrashed)
	assert.Equal(t, int32(2), spawner.spawned.Load(), "exactly one redispatch")

	data, err := pool.Run(context.Background(), task("echo", "after", []byte("alive")), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("alive"), data)
}

func TestPool_StaleEpoch(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, workerpool.Options{})
	pool.AdvanceEpoch(5)
	pool.AdvanceEpoch(3)
	assert.Equal(t, uint64(5), pool.Epoch(), "epochs never move backwards")

	_, err := pool.Run(context.Background(), domain.WorkerTask{Kind: "echo", Epoch: 4}, nil)
	require.ErrorIs(t, err, domain.ErrStaleEpoch)
}

func TestPool_LateResultOfStaleEpochIsDropped(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, workerpool.Options{})
	out := filepath.Join(t.TempDir(), "runs")

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Run(context.Background(), task("slow", "slow", []byte(out)), nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(out)
		return err == nil
	}, 10*time.Second, 10*time.Millisecond)
	pool.AdvanceEpoch(2)

	require.ErrorIs(t, <-errCh, domain.ErrStaleEpoch)
}

func TestPool_CancelReleasesWorker(t *testing.T) {
	t.Parallel()

	pool, spawner := newPool(t, workerpool.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := pool.Run(ctx, task("block", "block", nil), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	data, err := pool.Run(context.Background(), task("echo", "e", []byte("next")), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), data)
	assert.Equal(t, int32(1), spawner.spawned.Load(), "the cancelled worker finished and was reused")
}

func TestPool_DedupSharesExecution(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, workerpool.Options{Size: 2})
	out := filepath.Join(t.TempDir(), "runs")

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := pool.Run(context.Background(), task("slow", "same", []byte(out)), nil)
			assert.NoError(t, err)
			results[i] = data
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []byte("slow"), r)
	}
	runs, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(runs), "run"))
}

func TestPool_Close(t *testing.T) {
	t.Parallel()

	pool, _ := newPool(t, workerpool.Options{})

	_, err := pool.Run(context.Background(), task("echo", "e", []byte("x")), nil)
	require.NoError(t, err)
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	_, err = pool.Run(context.Background(), task("echo", "e2", []byte("x")), nil)
	require.ErrorIs(t, err, domain.ErrPoolClosed)
}
