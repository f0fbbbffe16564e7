package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/medallion-pipeline/internal/jobs"
)

func startQueue(t *testing.T, handler jobs.JobHandler, opts ...Option) (*Queue, *Store) {
	t.Helper()
	store := NewStore()
	opts = append([]Option{WithRetryBackoff(time.Millisecond)}, opts...)
	q := NewQueue(10, store, opts...)
	require.NoError(t, q.Start(context.Background(), handler))
	t.Cleanup(func() { _ = q.Close() })
	return q, store
}

func waitForStatus(t *testing.T, store *Store, id string, want jobs.JobStatus) *jobs.RunPipelineJob {
	t.Helper()
	var got *jobs.RunPipelineJob
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestQueue_CompletesJob(t *testing.T) {
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		job.(*jobs.RunPipelineJob).Result = &jobs.RunResult{State: "DONE"}
		return nil
	})

	job := &jobs.RunPipelineJob{InputPath: "data/transactions.csv", Trigger: jobs.TriggerAPI}
	require.NoError(t, q.PublishRunPipeline(context.Background(), job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, defaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Result)
	assert.Equal(t, "DONE", done.Result.State)
	assert.Empty(t, done.Error)
}

func TestQueue_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("database is locked")
	}, WithMaxRetries(2))

	job := &jobs.RunPipelineJob{}
	require.NoError(t, q.PublishRunPipeline(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "database is locked", failed.Error)
	assert.EqualValues(t, 3, calls.Load())
}

func TestQueue_RetrySucceeds(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	job := &jobs.RunPipelineJob{}
	require.NoError(t, q.PublishRunPipeline(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Empty(t, done.Error)
}

func TestQueue_PermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return jobs.ErrPermanent
	})

	job := &jobs.RunPipelineJob{}
	require.NoError(t, q.PublishRunPipeline(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Zero(t, failed.RetryCount)
	assert.EqualValues(t, 1, calls.Load())
}

func TestQueue_PanicFailsJob(t *testing.T) {
	q, store := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		panic("boom")
	})

	job := &jobs.RunPipelineJob{}
	require.NoError(t, q.PublishRunPipeline(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Contains(t, failed.Error, "boom")
}

func TestQueue_StopWaitsForInFlightJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	store := NewStore()
	q := NewQueue(1, store)
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}))
	require.NoError(t, q.PublishRunPipeline(context.Background(), &jobs.RunPipelineJob{}))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight job finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)
	assert.True(t, finished.Load())

	err := q.PublishRunPipeline(context.Background(), &jobs.RunPipelineJob{})
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)
	assert.ErrorIs(t, q.Start(context.Background(), nil), jobs.ErrQueueClosed)
}

func TestQueue_StartTwice(t *testing.T) {
	q, _ := startQueue(t, func(ctx context.Context, job jobs.Job) error { return nil })
	assert.Error(t, q.Start(context.Background(), nil))
}
