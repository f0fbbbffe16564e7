package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRunPipeline represents one medallion pipeline run.
	JobTypeRunPipeline JobType = "run_pipeline"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Triggers record who asked for a run.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// ErrNotFound is returned by a JobStore for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// ErrPermanent marks a handler failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// RunPipelineJob represents a request to run the pipeline, optionally over a
// new input file.
type RunPipelineJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// InputPath is the CSV or parquet file to ingest. Empty advances rows
	// already in bronze.
	InputPath string `json:"input_path,omitempty"`

	// Trigger records where the job came from.
	Trigger string `json:"trigger,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`

	// Result is filled in by the handler from the last attempt's run report.
	Result *RunResult `json:"result,omitempty"`
}

// RunResult is the part of a pipeline run report kept with the job.
type RunResult struct {
	RunID           string `json:"run_id"`
	State           string `json:"state"`
	FailedStage     string `json:"failed_stage,omitempty"`
	BronzeInserted  int    `json:"bronze_inserted"`
	SilverProcessed int    `json:"silver_processed"`
	GoldSummaries   int    `json:"gold_summaries"`
	Exported        bool   `json:"exported"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *RunPipelineJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *RunPipelineJob) GetType() JobType {
	return JobTypeRunPipeline
}

// GetStatus implements the Job interface.
func (j *RunPipelineJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishRunPipeline publishes a pipeline run job.
	PublishRunPipeline(ctx context.Context, job *RunPipelineJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried; errors
// wrapping ErrPermanent fail the job immediately.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *RunPipelineJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*RunPipelineJob, error)

	// ListJobs retrieves jobs, newest first, with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*RunPipelineJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter selects jobs for listing. Zero fields match everything.
type JobFilter struct {
	Trigger string
	Status  JobStatus

	// State and FailedStage match the last run report; jobs without one never
	// match a non-empty value.
	State       string
	FailedStage string

	// Since keeps jobs created at or after the given time.
	Since time.Time

	Limit  int
	Offset int
}

// Match reports whether job passes every non-zero criterion except paging.
func (f JobFilter) Match(job *RunPipelineJob) bool {
	if f.Trigger != "" && job.Trigger != f.Trigger {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && job.CreatedAt.Before(f.Since) {
		return false
	}
	if f.State == "" && f.FailedStage == "" {
		return true
	}
	if job.Result == nil {
		return false
	}
	return (f.State == "" || job.Result.State == f.State) &&
		(f.FailedStage == "" || job.Result.FailedStage == f.FailedStage)
}

// Finished reports whether the job reached a terminal status.
func (j *RunPipelineJob) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
