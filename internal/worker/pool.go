package worker

import (
	"context"
	"sync"

	"tunesync/internal/catalog"
	"tunesync/internal/device"
	"tunesync/internal/planner"

	"go.uber.org/zap"
)

// Pool runs fetch tasks on a fixed number of workers. The cap bounds
// simultaneous catalog connections and simultaneous writers to the
// target, which tends to misbehave under high write concurrency.
type Pool struct {
	size    int
	config  Config
	catalog catalog.Client
	target  device.Target
	logger  *zap.Logger
}

// NewPool creates a worker pool of the given size.
func NewPool(
	size int,
	config Config,
	catalogClient catalog.Client,
	target device.Target,
	logger *zap.Logger,
) *Pool {
	if size < 1 {
		size = 1
	}
	if config.Retries < 1 {
		config.Retries = 1
	}
	return &Pool{
		size:    size,
		config:  config,
		catalog: catalogClient,
		target:  target,
		logger:  logger,
	}
}

// Start launches the workers. They drain the task channel, emit one
// Outcome per task, and exit when the channel closes or the context
// is cancelled. The caller closes outcomes after wg completes.
func (p *Pool) Start(ctx context.Context, tasks <-chan planner.Task, outcomes chan<- Outcome, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, outcomes, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan planner.Task, outcomes chan<- Outcome, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("worker started")

	proc := &processor{
		config:  p.config,
		catalog: p.catalog,
		target:  p.target,
		logger:  logger,
	}

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("worker finished, no more tasks")
				return
			}
			outcomes <- proc.run(ctx, task)

		case <-ctx.Done():
			logger.Debug("worker stopped, context cancelled")
			return
		}
	}
}
