package pipeline

import (
	"context"

	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/source"
)

// PipelineStep represents a single store stage of a run.
type PipelineStep interface {
	Stage() State
	Execute(ctx context.Context, state *RunState) error
}

// RunState holds the shared state across all pipeline steps and hooks.
type RunState struct {
	RunID          string
	Batch          *source.Batch
	BronzeInserted int
	Silver         SilverResult
	Gold           GoldResult
	Artifacts      []export.Artifact
}

// Step 1: BronzeStep ingests the run's input batch.
type BronzeStep struct {
	Loader Loader
}

func (s *BronzeStep) Stage() State { return StateBronze }

func (s *BronzeStep) Execute(ctx context.Context, state *RunState) error {
	n, err := s.Loader.Load(ctx, state.Batch)
	if err != nil {
		return err
	}
	state.BronzeInserted = n
	return nil
}

// Step 2: SilverStep validates bronze rows not yet in silver.
type SilverStep struct {
	Transformer Transformer
}

func (s *SilverStep) Stage() State { return StateSilver }

func (s *SilverStep) Execute(ctx context.Context, state *RunState) error {
	res, err := s.Transformer.Transform(ctx)
	if err != nil {
		return err
	}
	state.Silver = res
	return nil
}

// Step 3: GoldStep aggregates silver rows past the gold frontier.
type GoldStep struct {
	Aggregator Aggregator
}

func (s *GoldStep) Stage() State { return StateGold }

func (s *GoldStep) Execute(ctx context.Context, state *RunState) error {
	res, err := s.Aggregator.Aggregate(ctx)
	if err != nil {
		return err
	}
	state.Gold = res
	return nil
}
