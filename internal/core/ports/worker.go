package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// WorkerConn is the message channel to one worker process.
type WorkerConn interface {
	// ID identifies the worker in logs.
	ID() string
	// Send writes a message to the worker.
	Send(msg domain.Message) error
	// Recv blocks until the worker sends a message. It returns an error once the worker has exited.
	Recv() (domain.Message, error)
	// Kill terminates the worker process.
	Kill() error
	// Wait blocks until the worker process has exited.
	Wait() error
}

// WorkerSpawner starts worker processes.
type WorkerSpawner interface {
	Spawn(ctx context.Context) (WorkerConn, error)
}
