package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/medallion-pipeline/internal/jobs"
)

const (
	defaultWorkers      = 1
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Jobs do not survive a restart.
type Queue struct {
	jobChan   chan *jobs.RunPipelineJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	retries   sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	log       zerolog.Logger
	closed    bool
	started   bool

	workers      int
	maxRetries   int
	retryBackoff time.Duration
	now          func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets how many jobs are handled concurrently.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithMaxRetries sets the retry limit for jobs published without one.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay before a failed job is re-enqueued.
// The n-th retry waits n times the base.
func WithRetryBackoff(d time.Duration) Option {
	return func(q *Queue) {
		q.retryBackoff = d
	}
}

// WithLogger sets the queue logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) {
		q.log = log
	}
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishRunPipeline blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:      make(chan *jobs.RunPipelineJob, bufferSize),
		closeChan:    make(chan struct{}),
		store:        store,
		log:          zerolog.Nop(),
		workers:      defaultWorkers,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishRunPipeline implements the Publisher interface.
// It enqueues a pipeline run for asynchronous processing.
func (q *Queue) PublishRunPipeline(ctx context.Context, job *jobs.RunPipelineJob) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}

	if err := q.save(ctx, job); err != nil {
		return err
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start implements the Consumer interface.
// It starts the configured number of workers, each calling handler for the
// jobs it receives.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}
	if q.started {
		return errors.New("queue already started")
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job and schedules a retry on failure.
func (q *Queue) processJob(ctx context.Context, job *jobs.RunPipelineJob, handler jobs.JobHandler) {
	log := q.log.With().Str("job_id", job.JobID).Logger()

	job.Status = jobs.JobStatusRunning
	startedAt := q.now()
	job.StartedAt = &startedAt
	job.CompletedAt = nil
	if err := q.save(ctx, job); err != nil {
		log.Warn().Err(err).Msg("Failed to save running job")
	}

	err := q.safeHandle(ctx, job, handler)

	completedAt := q.now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case errors.Is(err, jobs.ErrPermanent) || job.RetryCount >= job.MaxRetries:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		log.Error().Err(err).Int("retry_count", job.RetryCount).Msg("Job failed")
	default:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		backoff := time.Duration(job.RetryCount) * q.retryBackoff
		log.Warn().Err(err).Int("retry_count", job.RetryCount).Dur("backoff", backoff).Msg("Job failed, retrying")
		q.scheduleRetry(ctx, job, backoff)
	}

	if err := q.save(ctx, job); err != nil {
		log.Warn().Err(err).Msg("Failed to save job result")
	}
}

func (q *Queue) safeHandle(ctx context.Context, job *jobs.RunPipelineJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", jobs.ErrPermanent, r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) scheduleRetry(ctx context.Context, job *jobs.RunPipelineJob, backoff time.Duration) {
	retry := *job
	q.retries.Add(1)
	go func() {
		defer q.retries.Done()
		timer := time.NewTimer(backoff)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-q.closeChan:
			return
		case <-ctx.Done():
			return
		}

		retry.Status = jobs.JobStatusPending
		retry.StartedAt = nil
		retry.CompletedAt = nil
		if err := q.PublishRunPipeline(ctx, &retry); err != nil {
			q.log.Warn().Err(err).Str("job_id", retry.JobID).Msg("Failed to re-enqueue job")
		}
	}()
}

func (q *Queue) save(ctx context.Context, job *jobs.RunPipelineJob) error {
	if q.store == nil {
		return nil
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Stop implements the Consumer interface.
// It stops the queue and waits for in-flight jobs to complete. Pending
// retries are dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		q.retries.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
