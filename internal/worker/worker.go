// Package worker implements the scan execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// Runner executes one scan. *scan.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, scanID string, req scan.Request) (scan.Payload, error)
}

// Worker consumes queue items and runs their scans.
type Worker struct {
	queue  scan.Queue
	jobs   scan.JobStore
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker. jobs may be nil when nobody tracks status.
func New(queue scan.Queue, jobs scan.JobStore, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		jobs:   jobs,
		runner: runner,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scan.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued scan", zap.String("scan_id", item.ScanID))
		w.processScan(ctx, item)
	}
}

func (w *Worker) processScan(ctx context.Context, item scan.QueueItem) {
	logger := w.logger.With(zap.String("scan_id", item.ScanID), zap.String("task", string(item.Request.Task)))
	if err := w.updateJob(ctx, item.ScanID, scan.JobRunning, nil); err != nil {
		logger.Error("update scan status failed", zap.Error(err))
		return
	}

	payload, err := w.run(ctx, item)
	status := scan.JobSucceeded
	if err != nil {
		status = scan.JobFailed
		logger.Warn("scan failed", zap.Error(err))
	}
	// The final status is recorded even when shutdown interrupted the scan.
	if err := w.updateJob(context.WithoutCancel(ctx), item.ScanID, status, &payload); err != nil {
		logger.Error("final scan status update failed", zap.Error(err))
		return
	}
	logger.Info("scan finished", zap.String("status", string(status)))
}

func (w *Worker) run(ctx context.Context, item scan.QueueItem) (payload scan.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("scan panicked",
				zap.String("scan_id", item.ScanID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("scan panicked: %v", r)
			payload = scan.Payload{ScanID: item.ScanID, Task: item.Request.Task, Error: err.Error()}
		}
	}()
	return w.runner.Run(ctx, item.ScanID, item.Request)
}

func (w *Worker) updateJob(ctx context.Context, id string, status scan.JobStatus, payload *scan.Payload) error {
	if w.jobs == nil {
		return nil
	}
	if err := w.jobs.UpdateJob(ctx, id, status, payload); err != nil {
		return fmt.Errorf("update scan %s to %s: %w", id, status, err)
	}
	return nil
}
