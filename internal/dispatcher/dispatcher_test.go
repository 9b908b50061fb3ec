package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/clock/manual"
	queuememory "github.com/JakeFAU/webcrawl-engine/internal/queue/memory"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/memory"
	"github.com/JakeFAU/webcrawl-engine/internal/worker"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("scan-%d", s.n), nil
}

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, scanID string, req scan.Request) (scan.Payload, error) {
	return scan.Payload{ScanID: scanID, Task: req.Task, Success: true}, nil
}

// TestDispatcherRunsSubmittedScans covers submit, worker fan-out and stop on cancel.
func TestDispatcherRunsSubmittedScans(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(4)
	store := memory.New()
	workers := []*worker.Worker{
		worker.New(queue, store, echoRunner{}, zap.NewNop()),
		worker.New(queue, store, echoRunner{}, zap.NewNop()),
	}
	dispatch := New(queue, store, &seqIDs{}, manual.New(epoch), workers, zap.NewNop())

	job, err := dispatch.Submit(context.Background(), scan.Request{Task: " Links ", Seeds: []string{"https://a.example/"}})
	require.NoError(t, err)
	require.Equal(t, "scan-1", job.ID)
	require.Equal(t, scan.TaskLinks, job.Request.Task)
	require.Equal(t, scan.JobQueued, job.Status)
	require.Equal(t, epoch, job.Submitted)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), "scan-1")
		return err == nil && got.Status == scan.JobSucceeded
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherSubmitRejectsUnknownTask(t *testing.T) {
	t.Parallel()

	store := memory.New()
	dispatch := New(queuememory.NewQueue(1), store, &seqIDs{}, manual.New(epoch), nil, nil)
	_, err := dispatch.Submit(context.Background(), scan.Request{Task: "daily"})
	require.ErrorIs(t, err, scan.ErrUnknownTask)

	jobs, err := store.ListJobs(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestDispatcherSubmitMarksUnqueuedScanFailed(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	queue.Close()
	store := memory.New()
	dispatch := New(queue, store, &seqIDs{}, manual.New(epoch), nil, nil)

	_, err := dispatch.Submit(context.Background(), scan.Request{Task: scan.TaskIndexes})
	require.ErrorIs(t, err, scan.ErrQueueClosed)

	job, err := store.GetJob(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, scan.JobFailed, job.Status)
	require.Contains(t, job.Payload.Error, "queue closed")
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, nil, nil, nil, nil)
	err := dispatch.Enqueue(context.Background(), scan.QueueItem{ScanID: "scan"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, scan.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (scan.QueueItem, error) {
	return scan.QueueItem{}, nil
}
