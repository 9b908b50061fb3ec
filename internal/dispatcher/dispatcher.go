// Package dispatcher accepts scan submissions and fans queued scans out to
// a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/worker"
)

// Clock supplies submission timestamps.
type Clock interface {
	Now() time.Time
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   scan.Queue
	jobs    scan.JobStore
	ids     scan.IDGenerator
	clock   Clock
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue scan.Queue,
	jobs scan.JobStore,
	ids scan.IDGenerator,
	clock Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		ids:     ids,
		clock:   clock,
		workers: workers,
		logger:  logger,
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

// Submit records req as a queued job and enqueues it. The task is checked
// up front so malformed requests never reach a worker.
func (d *Dispatcher) Submit(ctx context.Context, req scan.Request) (scan.Job, error) {
	task, err := scan.ParseTask(string(req.Task))
	if err != nil {
		return scan.Job{}, err
	}
	req.Task = task
	id, err := d.ids.NewID()
	if err != nil {
		return scan.Job{}, fmt.Errorf("scan id: %w", err)
	}
	job := scan.Job{
		ID:        id,
		Request:   req,
		Status:    scan.JobQueued,
		Submitted: d.clock.Now().UTC(),
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return scan.Job{}, fmt.Errorf("create scan job: %w", err)
	}
	if err := d.Enqueue(ctx, scan.QueueItem{ScanID: id, Request: req, Submitted: job.Submitted.Unix()}); err != nil {
		failed := scan.Payload{ScanID: id, Task: task, Error: err.Error()}
		if updErr := d.jobs.UpdateJob(context.WithoutCancel(ctx), id, scan.JobFailed, &failed); updErr != nil {
			d.logger.Error("mark unqueued scan failed", zap.String("scan_id", id), zap.Error(updErr))
		}
		return scan.Job{}, err
	}
	d.logger.Info("scan submitted", zap.String("scan_id", id), zap.String("task", string(task)))
	return job, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item scan.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
