package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queuememory "github.com/JakeFAU/webcrawl-engine/internal/queue/memory"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/memory"
)

type fakeRunner struct {
	mu    sync.Mutex
	err   error
	panic bool
	ran   []string
}

func (r *fakeRunner) Run(_ context.Context, scanID string, req scan.Request) (scan.Payload, error) {
	r.mu.Lock()
	r.ran = append(r.ran, scanID)
	r.mu.Unlock()
	if r.panic {
		panic("engine exploded")
	}
	payload := scan.Payload{ScanID: scanID, Task: req.Task, Success: r.err == nil}
	if r.err != nil {
		payload.Error = r.err.Error()
	}
	return payload, r.err
}

func (r *fakeRunner) runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func setup(t *testing.T, runner Runner, ids ...string) (*queuememory.Queue, *memory.Store) {
	t.Helper()
	queue := queuememory.NewQueue(len(ids))
	store := memory.New()
	for _, id := range ids {
		require.NoError(t, store.CreateJob(context.Background(), scan.Job{
			ID:      id,
			Request: scan.Request{Task: scan.TaskFrontpages},
			Status:  scan.JobQueued,
		}))
		require.NoError(t, queue.Enqueue(context.Background(), scan.QueueItem{
			ScanID:  id,
			Request: scan.Request{Task: scan.TaskFrontpages},
		}))
	}
	return queue, store
}

func jobStatus(t *testing.T, store *memory.Store, id string) scan.JobStatus {
	t.Helper()
	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job.Status
}

func TestWorker_ProcessScan_SuccessFlow(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	queue, store := setup(t, runner, "scan-1", "scan-2")
	queue.Close()

	New(queue, store, runner, zap.NewNop()).Run(context.Background())

	require.Equal(t, []string{"scan-1", "scan-2"}, runner.runs())
	job, err := store.GetJob(context.Background(), "scan-2")
	require.NoError(t, err)
	require.Equal(t, scan.JobSucceeded, job.Status)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)
	require.True(t, job.Payload.Success)
}

func TestWorker_ProcessScan_FailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("crawl sites: browser gone")}
	queue, store := setup(t, runner, "scan-1")
	queue.Close()

	New(queue, store, runner, nil).Run(context.Background())

	job, err := store.GetJob(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, scan.JobFailed, job.Status)
	require.Equal(t, "crawl sites: browser gone", job.Payload.Error)
}

func TestWorker_ProcessScan_RecoversPanics(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{panic: true}
	queue, store := setup(t, runner, "scan-1", "scan-2")
	queue.Close()

	New(queue, store, runner, nil).Run(context.Background())

	require.Equal(t, scan.JobFailed, jobStatus(t, store, "scan-1"))
	require.Equal(t, scan.JobFailed, jobStatus(t, store, "scan-2"))
}

func TestWorker_UnknownJobIsNotRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	queue := queuememory.NewQueue(1)
	require.NoError(t, queue.Enqueue(context.Background(), scan.QueueItem{ScanID: "ghost"}))
	queue.Close()

	New(queue, memory.New(), runner, nil).Run(context.Background())
	require.Empty(t, runner.runs())
}

func TestWorker_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(queuememory.NewQueue(1), nil, &fakeRunner{}, nil).Run(ctx)
		close(done)
	}()
	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
