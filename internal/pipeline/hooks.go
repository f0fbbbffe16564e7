package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ExportHook writes every layer to parquet after a successful run, then
// optionally uploads the files and publishes the run's gold summaries.
type ExportHook struct {
	exporter  LayerExporter
	uploader  ArtifactUploader
	publisher SummaryPublisher
	log       zerolog.Logger
}

// ExportOption configures an ExportHook.
type ExportOption func(*ExportHook)

// WithUploader ships exported files through u.
func WithUploader(u ArtifactUploader) ExportOption {
	return func(h *ExportHook) { h.uploader = u }
}

// WithPublisher publishes gold summaries written by the run through p.
func WithPublisher(p SummaryPublisher) ExportOption {
	return func(h *ExportHook) { h.publisher = p }
}

// NewExportHook creates the export hook.
func NewExportHook(exporter LayerExporter, log zerolog.Logger, opts ...ExportOption) *ExportHook {
	h := &ExportHook{exporter: exporter, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ExportHook) Name() string { return "export" }

// AfterSuccess exports the layers. Uploading is skipped when the export
// produced no files; publishing runs regardless of the export outcome.
func (h *ExportHook) AfterSuccess(ctx context.Context, state *RunState) error {
	if h.exporter == nil {
		return errors.New("no exporter configured")
	}

	var errs error
	artifacts, err := h.exporter.ExportAll(ctx)
	state.Artifacts = artifacts
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("export layers: %w", err))
	}

	if h.uploader != nil && len(artifacts) > 0 {
		if err := h.uploader.UploadArtifacts(ctx, artifacts); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("upload artifacts: %w", err))
		}
	}

	if h.publisher != nil && len(state.Gold.Written) > 0 {
		if err := h.publisher.Publish(ctx, state.Gold.Written); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish gold summaries: %w", err))
		} else {
			h.log.Info().Int("summaries", len(state.Gold.Written)).Msg("Published gold summaries")
		}
	}

	return errs
}
