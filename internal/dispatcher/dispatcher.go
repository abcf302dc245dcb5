// Package dispatcher manages worker fan-out over the pipeline queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
	"github.com/sjkd23/PagePersona-sub002/internal/worker"
)

// Dispatcher fans out queued work to a bounded pool of pipeline workers.
// Scheduling is fire-and-forget from the admission endpoint's perspective:
// the HTTP handler enqueues and returns, and workers run on their own
// context, decoupled from any request lifetime.
type Dispatcher struct {
	queue   transform.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue transform.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item transform.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
