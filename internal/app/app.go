// Package app wires the store, pipeline stages and optional cloud
// collaborators from configuration. The CLI, API and worker share it.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dvloznov/medallion-pipeline/internal/config"
	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/gcsuploader"
	infra "github.com/dvloznov/medallion-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/medallion-pipeline/internal/metrics"
	"github.com/dvloznov/medallion-pipeline/internal/pipeline"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// App holds the wired components of one process.
type App struct {
	Config       *config.Config
	Log          zerolog.Logger
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Store        *store.Store
	Exporter     *export.Exporter
	Uploader     *gcsuploader.Uploader
	Publisher    *infra.GoldPublisher
	Gold         *pipeline.GoldAggregator
	Orchestrator *pipeline.Orchestrator

	closers []func() error
}

// New opens the store and builds the orchestrator. The export hook is
// attached when export is enabled; uploading and publishing ride on it when
// their sections are enabled.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}

	s, err := store.Open(ctx, cfg.DB.Path, log)
	if err != nil {
		return nil, err
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	a.Exporter = export.NewExporter(s, cfg.Pipeline.ExportDir, log)
	a.Gold = pipeline.NewGoldAggregator(s, log, a.Metrics)

	if cfg.GCS.Enabled {
		gcsStore, err := gcsuploader.NewGCSStore(ctx, cfg.GCS.ProjectID)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, gcsStore.Close)
		a.Uploader = gcsuploader.New(gcsStore, gcsuploader.Config{
			BucketPrefix:   cfg.GCS.BucketPrefix,
			Location:       cfg.GCS.Location,
			MaxAttempts:    cfg.GCS.MaxAttempts,
			InitialBackoff: cfg.GCS.InitialBackoff,
			Verify:         cfg.GCS.Verify,
			Timeout:        cfg.GCS.Timeout,
		}, log, a.Metrics)
	}

	if cfg.BigQuery.Enabled {
		pub, err := infra.NewGoldPublisher(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		a.Publisher = pub
	}

	var hooks []pipeline.PostSuccessHook
	if cfg.Pipeline.ExportEnabled {
		var opts []pipeline.ExportOption
		if a.Uploader != nil {
			opts = append(opts, pipeline.WithUploader(a.Uploader))
		}
		if a.Publisher != nil {
			opts = append(opts, pipeline.WithPublisher(a.Publisher))
		}
		hooks = append(hooks, pipeline.NewExportHook(a.Exporter, log, opts...))
	}
	a.Orchestrator = pipeline.New(s, log, a.Metrics, hooks...)

	log.Debug().
		Str("db", cfg.DB.Path).
		Bool("export", cfg.Pipeline.ExportEnabled).
		Bool("gcs", a.Uploader != nil).
		Bool("bigquery", a.Publisher != nil).
		Msg("Application wired")
	return a, nil
}

// EnsureBuckets creates the layer buckets when uploading is enabled.
func (a *App) EnsureBuckets(ctx context.Context) error {
	if a.Uploader == nil {
		return nil
	}
	return a.Uploader.EnsureBuckets(ctx)
}

// WriteMetrics writes the registry to the configured node-exporter textfile.
// It is a no-op without one.
func (a *App) WriteMetrics() error {
	path := a.Config.Metrics.Textfile
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, a.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
