package ipc

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/core/ports"
)

// NodeID is the unique identifier for the worker spawner Graft node.
const NodeID graft.ID = "adapter.worker_spawner"

func init() {
	graft.Register(graft.Node[ports.WorkerSpawner]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.WorkerSpawner, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			spawner, err := NewSpawner(WithStderr(NewLogWriter(log)))
			if err != nil {
				return nil, err
			}
			return spawner, nil
		},
	})
}
