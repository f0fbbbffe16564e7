package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/medallion-pipeline/internal/pipeline"
	"github.com/dvloznov/medallion-pipeline/internal/source"
)

// PipelineRunner runs the pipeline over an optional batch.
type PipelineRunner interface {
	Run(ctx context.Context, batch *source.Batch) (*pipeline.Report, error)
}

// NewPipelineHandler returns a handler that executes RunPipelineJobs with
// runner. Runs are serialized: the layers share one store and a run reads the
// frontier the previous run wrote.
func NewPipelineHandler(runner PipelineRunner, log zerolog.Logger) JobHandler {
	var mu sync.Mutex

	return func(ctx context.Context, job Job) error {
		runJob, ok := job.(*RunPipelineJob)
		if !ok {
			return fmt.Errorf("%w: unexpected job type %T", ErrPermanent, job)
		}

		jobLog := log.With().Str("job_id", runJob.JobID).Str("input", runJob.InputPath).Logger()

		var batch *source.Batch
		if runJob.InputPath != "" {
			batch = source.Load(runJob.InputPath)
		}

		mu.Lock()
		defer mu.Unlock()

		jobLog.Info().Msg("Processing pipeline job")
		report, err := runner.Run(ctx, batch)
		if report != nil {
			runJob.Result = &RunResult{
				RunID:           report.RunID,
				State:           string(report.State),
				FailedStage:     string(report.FailedStage),
				BronzeInserted:  report.BronzeInserted,
				SilverProcessed: report.Silver.Processed,
				GoldSummaries:   report.Gold.Summaries,
				Exported:        report.Exported,
			}
		}
		if err != nil {
			jobLog.Error().Err(err).Msg("Pipeline execution failed")
			if errors.Is(err, pipeline.ErrMissingColumns) || errors.Is(err, pipeline.ErrUnreadableInput) {
				return fmt.Errorf("%w: %w", ErrPermanent, err)
			}
			return err
		}

		jobLog.Info().Msg("Pipeline execution completed successfully")
		return nil
	}
}
