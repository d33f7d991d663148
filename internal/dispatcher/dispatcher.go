// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
	"github.com/JakeFAU/realtime-product-sourcing/internal/worker"
)

// Dispatcher fans out queued runs to a pool of workers.
type Dispatcher struct {
	queue   sourcing.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue sourcing.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds a Dispatcher with count workers sharing executor.
func NewPool(count int, queue sourcing.Queue, executor worker.Executor, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if count <= 0 {
		count = 1
	}
	workers := make([]*worker.Worker, 0, count)
	for i := range count {
		workers = append(workers, worker.New(i+1, queue, executor, cfg, logger))
	}
	return New(queue, workers)
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
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
func (d *Dispatcher) Enqueue(ctx context.Context, req sourcing.RunRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
