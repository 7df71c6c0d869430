package workerpool

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/plugin"
)

// Transport is the worker side of the message channel.
type Transport interface {
	Send(msg domain.Message) error
	Recv() (domain.Message, error)
}

// Serve runs the worker loop: it announces readiness, then executes every task it receives with
// the plugin registered for the task kind. It returns nil when the orchestrator closes the
// channel.
func Serve(ctx context.Context, t Transport, reg *plugin.Registry) error {
	if err := t.Send(domain.Message{Event: domain.EventReady}); err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		running = make(map[uint64]context.CancelFunc)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, cancel := range running {
			cancel()
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		msg, err := t.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if msg.Event == domain.EventCancel {
			mu.Lock()
			if cancel, ok := running[msg.TaskID]; ok {
				cancel()
			}
			mu.Unlock()
			continue
		}

		taskCtx, cancel := context.WithCancel(ctx)
		mu.Lock()
		running[msg.TaskID] = cancel
		mu.Unlock()

		wg.Add(1)
		go func(msg domain.Message) {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(running, msg.TaskID)
				mu.Unlock()
				cancel()
			}()

			reply := execute(taskCtx, t, reg, msg)
			_ = t.Send(reply)
		}(msg)
	}
}

func execute(ctx context.Context, t Transport, reg *plugin.Registry, msg domain.Message) domain.Message {
	reply := domain.Message{Event: domain.EventFinished, TaskID: msg.TaskID, Epoch: msg.Epoch}

	p, err := reg.Lookup(msg.Event)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}

	emit := func(event string, data []byte) {
		_ = t.Send(domain.Message{Event: event, TaskID: msg.TaskID, Epoch: msg.Epoch, Data: data})
	}

	data, err := p.Handle(ctx, msg.Data, emit)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Data = data
	return reply
}
