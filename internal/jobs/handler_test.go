package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/medallion-pipeline/internal/pipeline"
	"github.com/dvloznov/medallion-pipeline/internal/source"
)

type runnerFunc func(ctx context.Context, batch *source.Batch) (*pipeline.Report, error)

func (f runnerFunc) Run(ctx context.Context, batch *source.Batch) (*pipeline.Report, error) {
	return f(ctx, batch)
}

type otherJob struct{}

func (otherJob) GetID() string        { return "x" }
func (otherJob) GetType() JobType     { return "other" }
func (otherJob) GetStatus() JobStatus { return JobStatusPending }

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.csv")
	content := "transaction_id,customer_id,timestamp,amount,transaction_type,merchant,category,status\n" +
		"t1,CUST000001,2024-01-10 09:00:00,20,purchase,MERCH0001:Cafe Co,food,completed\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestPipelineHandler_RecordsResult(t *testing.T) {
	var got *source.Batch
	h := NewPipelineHandler(runnerFunc(func(ctx context.Context, batch *source.Batch) (*pipeline.Report, error) {
		got = batch
		return &pipeline.Report{
			RunID:          "run-1",
			State:          pipeline.StateDone,
			BronzeInserted: 1,
			Silver:         pipeline.SilverResult{Processed: 1, Valid: 1},
			Gold:           pipeline.GoldResult{Summaries: 1},
			Exported:       true,
		}, nil
	}), zerolog.Nop())

	job := &RunPipelineJob{JobID: "j1", InputPath: writeCSV(t)}
	require.NoError(t, h(context.Background(), job))

	require.NotNil(t, got)
	assert.Len(t, got.Rows, 1)
	assert.Equal(t, &RunResult{
		RunID:           "run-1",
		State:           "DONE",
		BronzeInserted:  1,
		SilverProcessed: 1,
		GoldSummaries:   1,
		Exported:        true,
	}, job.Result)
}

func TestPipelineHandler_NoInputPassesNilBatch(t *testing.T) {
	called := false
	h := NewPipelineHandler(runnerFunc(func(ctx context.Context, batch *source.Batch) (*pipeline.Report, error) {
		called = true
		assert.Nil(t, batch)
		return &pipeline.Report{State: pipeline.StateDone}, nil
	}), zerolog.Nop())

	require.NoError(t, h(context.Background(), &RunPipelineJob{JobID: "j"}))
	assert.True(t, called)
}

func TestPipelineHandler_FailedRunIsRetryable(t *testing.T) {
	runErr := &pipeline.StageError{Stage: pipeline.StateSilver, Err: errors.New("disk full")}
	h := NewPipelineHandler(runnerFunc(func(ctx context.Context, batch *source.Batch) (*pipeline.Report, error) {
		return &pipeline.Report{State: pipeline.StateFailed, FailedStage: pipeline.StateSilver}, runErr
	}), zerolog.Nop())

	job := &RunPipelineJob{JobID: "j"}
	err := h(context.Background(), job)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermanent)
	assert.Equal(t, "SILVER", job.Result.FailedStage)
}

func TestPipelineHandler_PermanentFailures(t *testing.T) {
	structural := NewPipelineHandler(runnerFunc(func(ctx context.Context, batch *source.Batch) (*pipeline.Report, error) {
		return &pipeline.Report{State: pipeline.StateFailed},
			&pipeline.StageError{Stage: pipeline.StateBronze, Err: pipeline.ErrMissingColumns}
	}), zerolog.Nop())
	err := structural(context.Background(), &RunPipelineJob{JobID: "j"})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, pipeline.ErrMissingColumns)

	unreadable := NewPipelineHandler(runnerFunc(func(ctx context.Context, batch *source.Batch) (*pipeline.Report, error) {
		require.NotNil(t, batch)
		require.Error(t, batch.Err)
		return &pipeline.Report{State: pipeline.StateFailed, FailedStage: pipeline.StateBronze},
			&pipeline.StageError{Stage: pipeline.StateBronze, Err: fmt.Errorf("%w: %w", pipeline.ErrUnreadableInput, batch.Err)}
	}), zerolog.Nop())
	job := &RunPipelineJob{JobID: "j", InputPath: filepath.Join(t.TempDir(), "missing.csv")}
	err = unreadable(context.Background(), job)
	assert.ErrorIs(t, err, ErrPermanent)
	require.NotNil(t, job.Result)
	assert.Equal(t, "BRONZE", job.Result.FailedStage)

	never := NewPipelineHandler(runnerFunc(func(ctx context.Context, batch *source.Batch) (*pipeline.Report, error) {
		t.Fatal("runner must not be called")
		return nil, nil
	}), zerolog.Nop())
	err = never(context.Background(), otherJob{})
	assert.ErrorIs(t, err, ErrPermanent)
}
