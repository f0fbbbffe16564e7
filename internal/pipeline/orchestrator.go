package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/logger"
	"github.com/dvloznov/medallion-pipeline/internal/metrics"
	"github.com/dvloznov/medallion-pipeline/internal/source"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// State is a pipeline run state.
type State string

const (
	StateInit   State = "INIT"
	StateBronze State = "BRONZE"
	StateSilver State = "SILVER"
	StateGold   State = "GOLD"
	StateExport State = "EXPORT"
	StateDone   State = "DONE"
	StateFailed State = "FAILED"
)

// Report describes the outcome of one run.
type Report struct {
	RunID          string            `json:"run_id"`
	State          State             `json:"state"`
	FailedStage    State             `json:"failed_stage,omitempty"`
	Error          string            `json:"error,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	Duration       time.Duration     `json:"duration"`
	BronzeInserted int               `json:"bronze_inserted"`
	Silver         SilverResult      `json:"silver"`
	Gold           GoldResult        `json:"gold"`
	Stats          domain.LayerStats `json:"stats"`
	Exported       bool              `json:"exported"`
	Artifacts      []export.Artifact `json:"artifacts,omitempty"`
	Transitions    []State           `json:"transitions"`
}

// Succeeded reports whether the run reached DONE.
func (r *Report) Succeeded() bool {
	return r.State == StateDone
}

// Orchestrator runs the store stages in order and then the export hooks.
// The first failing stage moves the run to FAILED and stops it; rows already
// committed by earlier stages stay in place.
type Orchestrator struct {
	steps   []PipelineStep
	hooks   []PostSuccessHook
	stats   StatsReader
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewOrchestrator wires explicit stage implementations.
func NewOrchestrator(loader Loader, transformer Transformer, aggregator Aggregator, stats StatsReader,
	log zerolog.Logger, m *metrics.Metrics, hooks ...PostSuccessHook) *Orchestrator {
	return &Orchestrator{
		steps: []PipelineStep{
			&BronzeStep{Loader: loader},
			&SilverStep{Transformer: transformer},
			&GoldStep{Aggregator: aggregator},
		},
		hooks:   hooks,
		stats:   stats,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// New builds an orchestrator over the store-backed stages.
func New(s *store.Store, log zerolog.Logger, m *metrics.Metrics, hooks ...PostSuccessHook) *Orchestrator {
	return NewOrchestrator(
		NewBronzeLoader(s, log, m),
		NewSilverTransformer(s, log, m),
		NewGoldAggregator(s, log, m),
		s, log, m, hooks...,
	)
}

// Run executes one pipeline run over batch, which may be nil to only advance
// rows already in bronze. The returned error is a *StageError when the run
// ends in FAILED; the report is returned in both cases.
func (o *Orchestrator) Run(ctx context.Context, batch *source.Batch) (*Report, error) {
	runID := uuid.New().String()
	log := o.log.With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx, log)

	report := &Report{
		RunID:       runID,
		State:       StateInit,
		StartedAt:   o.now(),
		Transitions: []State{StateInit},
	}
	state := &RunState{RunID: runID, Batch: batch}

	log.Info().Msg("Starting medallion pipeline run")

	var runErr error
	for _, step := range o.steps {
		if err := o.enter(report, step.Stage(), func() error {
			return step.Execute(ctx, state)
		}); err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil && len(o.hooks) > 0 {
		runErr = o.enter(report, StateExport, func() error {
			return o.runHooks(ctx, state)
		})
		report.Exported = runErr == nil
	}

	if runErr == nil {
		o.transition(report, StateDone)
	}

	report.BronzeInserted = state.BronzeInserted
	report.Silver = state.Silver
	report.Gold = state.Gold
	report.Artifacts = state.Artifacts
	if o.stats != nil {
		if stats, err := o.stats.Stats(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to collect layer stats")
		} else {
			report.Stats = stats
		}
	}
	report.Duration = o.now().Sub(report.StartedAt)
	o.metrics.IncRun(string(report.State))

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr).Str("failed_stage", string(report.FailedStage))
	}
	event.
		Str("state", string(report.State)).
		Int64("bronze_count", report.Stats.Bronze).
		Int64("silver_count", report.Stats.Silver).
		Int64("gold_count", report.Stats.Gold).
		Bool("exported", report.Exported).
		Dur("duration", report.Duration).
		Msg("Pipeline run finished")

	return report, runErr
}

// enter moves the run into stage and executes fn. A failure moves the run to
// FAILED and is returned as a *StageError.
func (o *Orchestrator) enter(report *Report, stage State, fn func() error) error {
	o.transition(report, stage)
	start := o.now()
	err := fn()
	o.metrics.ObserveStage(string(stage), o.now().Sub(start), err)
	if err == nil {
		return nil
	}

	stageErr := &StageError{Stage: stage, Err: err}
	report.FailedStage = stage
	report.Error = err.Error()
	o.transition(report, StateFailed)
	return stageErr
}

func (o *Orchestrator) transition(report *Report, next State) {
	report.State = next
	report.Transitions = append(report.Transitions, next)
}

func (o *Orchestrator) runHooks(ctx context.Context, state *RunState) error {
	var errs error
	for _, h := range o.hooks {
		if err := h.AfterSuccess(ctx, state); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return errs
}
