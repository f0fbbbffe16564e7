package pipeline

import (
	"context"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/source"
)

// Loader ingests a raw batch into bronze.
type Loader interface {
	Load(ctx context.Context, batch *source.Batch) (int, error)
}

// Transformer advances unprocessed bronze rows into silver.
type Transformer interface {
	Transform(ctx context.Context) (SilverResult, error)
}

// Aggregator rolls silver rows up into gold.
type Aggregator interface {
	Aggregate(ctx context.Context) (GoldResult, error)
}

// StatsReader reports per-layer row counts.
type StatsReader interface {
	Stats(ctx context.Context) (domain.LayerStats, error)
}

// PostSuccessHook runs in the EXPORT stage, after every store stage succeeded.
type PostSuccessHook interface {
	Name() string
	AfterSuccess(ctx context.Context, state *RunState) error
}

// LayerExporter dumps the layer tables to interchange files.
type LayerExporter interface {
	ExportAll(ctx context.Context) ([]export.Artifact, error)
}

// ArtifactUploader ships exported files to object storage.
type ArtifactUploader interface {
	UploadArtifacts(ctx context.Context, artifacts []export.Artifact) error
}

// SummaryPublisher pushes gold summaries to an external warehouse.
type SummaryPublisher interface {
	Publish(ctx context.Context, summaries []domain.DailySummary) error
}
