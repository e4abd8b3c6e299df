package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"clinkerplan/internal/config"
	"clinkerplan/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testQueue(t *testing.T, cfg config.JobsConfig) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, cfg), s
}

func waitStatus(t *testing.T, s *store.Store, jobID, want string) *store.Job {
	t.Helper()
	var job *store.Job
	require.Eventually(t, func() bool {
		j, err := s.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func TestSubmitAndRunSuccess(t *testing.T) {
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 4})
	q.Register("echo", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		progress(50, "halfway")
		return "ref-1", "done", nil
	})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	jobID, err := q.Submit(context.Background(), "echo", `{}`, "base", "tester")
	require.NoError(t, err)

	job := waitStatus(t, s, jobID, store.JobSuccess)
	assert.Equal(t, "ref-1", job.ResultRef)
	assert.Equal(t, "done", job.ResultSummary)
	assert.InDelta(t, 100.0, job.ProgressPercent, 1e-9)
	assert.True(t, job.StartedAt.Valid)
	assert.True(t, job.FinishedAt.Valid)
	assert.False(t, job.StartedAt.Time.Before(job.SubmittedAt))
	assert.False(t, job.FinishedAt.Time.Before(job.StartedAt.Time))
}

func TestSubmitUnknownType(t *testing.T) {
	q, _ := testQueue(t, config.JobsConfig{})
	_, err := q.Submit(context.Background(), "mystery", "", "", "")
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestHandlerErrorFailsJob(t *testing.T) {
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 4})
	q.Register("boom", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		return "", "", errors.New("kaboom")
	})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	jobID, err := q.Submit(context.Background(), "boom", "", "", "")
	require.NoError(t, err)

	job := waitStatus(t, s, jobID, store.JobFailed)
	assert.Contains(t, job.ErrorPayload, "kaboom")
	assert.True(t, job.FinishedAt.Valid)
}

func TestHandlerPanicFailsJob(t *testing.T) {
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 4})
	q.Register("panic", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		panic("lost it")
	})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	jobID, err := q.Submit(context.Background(), "panic", "", "", "")
	require.NoError(t, err)

	job := waitStatus(t, s, jobID, store.JobFailed)
	assert.Contains(t, job.ErrorPayload, "lost it")
}

func TestCancelPendingJobNeverRuns(t *testing.T) {
	// No workers yet: the job sits queued while we cancel it.
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 4})
	ran := false
	q.Register("noop", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		ran = true
		return "", "", nil
	})

	jobID, err := q.Submit(context.Background(), "noop", "", "", "")
	require.NoError(t, err)
	require.NoError(t, q.Cancel(context.Background(), jobID))

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	job := waitStatus(t, s, jobID, store.JobCancelled)
	assert.True(t, job.FinishedAt.Valid)
	// Give the worker a beat to (incorrectly) pick it up.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran)
}

func TestCancelRunningJobBetweenStages(t *testing.T) {
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 4})
	entered := make(chan struct{})
	release := make(chan struct{})
	q.Register("staged", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		close(entered)
		<-release
		if cancelled() {
			return "", "", ErrCancelled
		}
		return "ref", "finished", nil
	})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	jobID, err := q.Submit(context.Background(), "staged", "", "", "")
	require.NoError(t, err)

	<-entered
	require.NoError(t, q.Cancel(context.Background(), jobID))
	close(release)

	job := waitStatus(t, s, jobID, store.JobCancelled)
	assert.True(t, job.FinishedAt.Valid)
	assert.Empty(t, job.ResultRef)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 4})
	q.Register("quick", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		return "", "", nil
	})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	jobID, err := q.Submit(context.Background(), "quick", "", "", "")
	require.NoError(t, err)
	waitStatus(t, s, jobID, store.JobSuccess)

	assert.ErrorIs(t, q.Cancel(context.Background(), jobID), store.ErrIllegalState)
	assert.ErrorIs(t, q.Cancel(context.Background(), "ghost"), store.ErrJobNotFound)
}

func TestSubmitQueueFull(t *testing.T) {
	// Capacity 1 with no workers running: the second submit overflows.
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 1})
	q.Register("noop", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		return "", "", nil
	})

	first, err := q.Submit(context.Background(), "noop", "", "", "")
	require.NoError(t, err)

	second, err := q.Submit(context.Background(), "noop", "", "", "")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Empty(t, second)

	// The rejected job is persisted as cancelled, the queued one is pending.
	jobs, err := q.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	j, err := s.GetJob(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, j.Status)
}

func TestSubmitBlocksWhenConfigured(t *testing.T) {
	q, _ := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 1, BlockWhenFull: true})
	q.Register("noop", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		return "", "", nil
	})

	_, err := q.Submit(context.Background(), "noop", "", "", "")
	require.NoError(t, err)

	// Channel is full and nothing drains it: the blocking submit must obey
	// its context deadline and cancel the stranded job.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	jobID := func() string {
		id, err := q.Submit(ctx, "noop", "", "", "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		return id
	}()
	assert.Empty(t, jobID)

	jobs, err := q.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	cancelledSeen := false
	for _, j := range jobs {
		if j.Status == store.JobCancelled {
			cancelledSeen = true
		}
	}
	assert.True(t, cancelledSeen)
}

func TestStartRecoversStaleRunningJobs(t *testing.T) {
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 1, QueueCapacity: 4})
	ctx := context.Background()

	// Simulate a job orphaned by a crashed process.
	require.NoError(t, s.InsertJob(ctx, store.Job{JobID: "stale", JobType: "noop"}))
	require.NoError(t, s.MarkJobRunning(ctx, "stale"))

	q.Register("noop", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		return "", "", nil
	})
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	job, err := s.GetJob(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.Contains(t, job.ErrorPayload, "restart")
	assert.True(t, job.FinishedAt.Valid)
}

func TestStopDrainsWorkers(t *testing.T) {
	q, s := testQueue(t, config.JobsConfig{WorkerPoolSize: 2, QueueCapacity: 4})
	q.Register("slow", func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (string, string, error) {
		time.Sleep(20 * time.Millisecond)
		return "", "", nil
	})
	require.NoError(t, q.Start(context.Background()))

	jobID, err := q.Submit(context.Background(), "slow", "", "", "")
	require.NoError(t, err)
	waitStatus(t, s, jobID, store.JobSuccess)

	q.Stop()
	// Stop returns only after every worker exits; goleak verifies the rest.
}
