// Package jobs runs submitted work on a bounded worker pool with durable
// state in the jobs table. Cancellation is cooperative: workers check a
// per-job flag between stages, so a long solve finishes before the
// cancellation lands.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"clinkerplan/internal/config"
	"clinkerplan/internal/logging"
	"clinkerplan/internal/store"
)

var (
	// ErrQueueFull is returned by Submit when the work channel is
	// saturated and blocking is disabled.
	ErrQueueFull = errors.New("job queue is full")
	// ErrCancelled is returned by handlers that observed their cancel flag.
	ErrCancelled = errors.New("job cancelled")
	// ErrUnknownJobType is returned by Submit for unregistered types.
	ErrUnknownJobType = errors.New("unknown job type")
)

// Progress reports handler progress; writes are best-effort.
type Progress func(percent float64, message string)

// Handler executes one job. Handlers return ErrCancelled after observing
// cancelled() true between stages; any other error fails the job.
type Handler func(ctx context.Context, job *store.Job, progress Progress, cancelled func() bool) (resultRef, resultSummary string, err error)

// Queue is the bounded job queue and worker pool.
type Queue struct {
	store         *store.Store
	handlers      map[string]Handler
	work          chan string
	workers       int
	blockWhenFull bool

	mu      sync.Mutex
	cancels map[string]*atomic.Bool

	onFinish func(jobType, status string)

	g      *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// New builds a stopped queue; call Start to launch the pool.
func New(s *store.Store, cfg config.JobsConfig) *Queue {
	workers := cfg.WorkerPoolSize
	if workers <= 0 {
		workers = 2
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 32
	}
	return &Queue{
		store:         s,
		handlers:      map[string]Handler{},
		work:          make(chan string, capacity),
		workers:       workers,
		blockWhenFull: cfg.BlockWhenFull,
		cancels:       map[string]*atomic.Bool{},
	}
}

// Register binds a handler to a job type. Call before Start.
func (q *Queue) Register(jobType string, h Handler) {
	q.handlers[jobType] = h
}

// Observe installs a callback fired once per job reaching a terminal
// status. Call before Start.
func (q *Queue) Observe(onFinish func(jobType, status string)) {
	q.onFinish = onFinish
}

func (q *Queue) finished(jobType, status string) {
	if q.onFinish != nil {
		q.onFinish(jobType, status)
	}
}

// Start recovers jobs orphaned by a previous crash and launches the worker
// pool.
func (q *Queue) Start(ctx context.Context) error {
	log := logging.Get(logging.CategoryJobs)

	stale, err := q.store.FailStaleRunningJobs(ctx, "restart")
	if err != nil {
		return err
	}
	if stale > 0 {
		log.Warnw("failed stale running jobs from previous process", "count", stale)
	}

	q.gctx, q.cancel = context.WithCancel(ctx)
	q.g, q.gctx = errgroup.WithContext(q.gctx)
	for i := 0; i < q.workers; i++ {
		q.g.Go(func() error {
			for {
				select {
				case <-q.gctx.Done():
					return nil
				case jobID, ok := <-q.work:
					if !ok {
						return nil
					}
					q.run(jobID)
				}
			}
		})
	}
	log.Infow("job queue started", "workers", q.workers, "capacity", cap(q.work))
	return nil
}

// Stop drains the pool: no new work is accepted and workers exit after
// their current job.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
		q.g.Wait()
	}
}

// Submit persists a pending job and enqueues it. When the channel is full
// it either blocks or cancels the fresh job and returns ErrQueueFull,
// depending on configuration.
func (q *Queue) Submit(ctx context.Context, jobType, payload, scenarioName, userID string) (string, error) {
	if _, ok := q.handlers[jobType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	jobID := uuid.NewString()
	job := store.Job{
		JobID: jobID, JobType: jobType, Payload: payload,
		ScenarioName: scenarioName, UserID: userID,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return "", err
	}
	q.setCancelFlag(jobID)

	if q.blockWhenFull {
		select {
		case q.work <- jobID:
			return jobID, nil
		case <-ctx.Done():
			// The caller's context is spent; use a fresh one for cleanup.
			_ = q.store.MarkJobCancelled(context.Background(), jobID)
			return "", ctx.Err()
		}
	}
	select {
	case q.work <- jobID:
		return jobID, nil
	default:
		_ = q.store.MarkJobCancelled(ctx, jobID)
		return "", ErrQueueFull
	}
}

// Cancel requests cancellation. Pending jobs flip straight to cancelled;
// running jobs get their flag raised and finish at the next stage boundary.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case store.JobPending:
		if err := q.store.MarkJobCancelled(ctx, jobID); err != nil {
			return err
		}
		q.raiseCancel(jobID)
		return nil
	case store.JobRunning:
		q.raiseCancel(jobID)
		return nil
	default:
		return fmt.Errorf("%w: job %s is %s", store.ErrIllegalState, jobID, job.Status)
	}
}

// Status returns the full job record.
func (q *Queue) Status(ctx context.Context, jobID string) (*store.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// List returns recent jobs, newest first.
func (q *Queue) List(ctx context.Context, limit int) ([]store.Job, error) {
	return q.store.ListJobs(ctx, limit)
}

func (q *Queue) setCancelFlag(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancels[jobID] = &atomic.Bool{}
}

func (q *Queue) raiseCancel(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if f, ok := q.cancels[jobID]; ok {
		f.Store(true)
	}
}

func (q *Queue) cancelled(jobID string) func() bool {
	q.mu.Lock()
	f, ok := q.cancels[jobID]
	q.mu.Unlock()
	if !ok {
		return func() bool { return false }
	}
	return f.Load
}

func (q *Queue) dropCancelFlag(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancels, jobID)
}

// run executes one dequeued job on the calling worker.
func (q *Queue) run(jobID string) {
	log := logging.Get(logging.CategoryJobs)
	ctx := context.Background()
	defer q.dropCancelFlag(jobID)

	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		log.Errorw("dequeued job vanished", "job_id", jobID, "error", err)
		return
	}
	// Cancelled while still queued.
	if job.Status != store.JobPending {
		return
	}
	if err := q.store.MarkJobRunning(ctx, jobID); err != nil {
		// A concurrent cancel won the race.
		if errors.Is(err, store.ErrIllegalTransition) {
			return
		}
		log.Errorw("failed to start job", "job_id", jobID, "error", err)
		return
	}

	handler := q.handlers[job.JobType]
	progress := func(percent float64, message string) {
		if err := q.store.UpdateJobProgress(ctx, jobID, percent, message); err != nil {
			log.Debugw("progress write lost", "job_id", jobID, "error", err)
		}
	}

	resultRef, summary, err := func() (ref, sum string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return handler(q.gctx, job, progress, q.cancelled(jobID))
	}()

	switch {
	case errors.Is(err, ErrCancelled):
		if err := q.store.MarkJobCancelled(ctx, jobID); err != nil {
			log.Errorw("failed to mark job cancelled", "job_id", jobID, "error", err)
		}
		q.finished(job.JobType, store.JobCancelled)
		log.Infow("job cancelled", "job_id", jobID, "type", job.JobType)
	case err != nil:
		if markErr := q.store.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			log.Errorw("failed to mark job failed", "job_id", jobID, "error", markErr)
		}
		q.finished(job.JobType, store.JobFailed)
		log.Warnw("job failed", "job_id", jobID, "type", job.JobType, "error", err)
	default:
		if err := q.store.MarkJobSuccess(ctx, jobID, resultRef, summary); err != nil {
			log.Errorw("failed to mark job success", "job_id", jobID, "error", err)
		}
		q.finished(job.JobType, store.JobSuccess)
		log.Infow("job succeeded", "job_id", jobID, "type", job.JobType, "result_ref", resultRef)
	}
}
