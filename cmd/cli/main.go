package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/medallion-pipeline/internal/app"
	"github.com/dvloznov/medallion-pipeline/internal/config"
	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/generator"
	"github.com/dvloznov/medallion-pipeline/internal/logger"
	"github.com/dvloznov/medallion-pipeline/internal/source"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewFromConfig(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		err = runPipeline(ctx, cfg, log, args)
	case "export":
		err = runExport(ctx, cfg, log, args)
	case "generate":
		err = runGenerate(cfg, log, args)
	case "upload":
		err = runUpload(ctx, cfg, log, args)
	case "buckets":
		err = runBuckets(ctx, cfg, log, args)
	case "stats":
		err = runStats(ctx, cfg, log, args)
	case "reaggregate":
		err = runReaggregate(ctx, cfg, log, args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Medallion Pipeline CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run          Ingest a file and advance it through bronze, silver and gold")
	fmt.Println("  export       Export layer tables to parquet")
	fmt.Println("  generate     Write a synthetic transactions file")
	fmt.Println("  upload       Upload a layer file to its GCS bucket")
	fmt.Println("  buckets      Show object counts and sizes of the layer buckets")
	fmt.Println("  stats        Show layer row counts and the gold frontier")
	fmt.Println("  reaggregate  Recompute gold summaries from a date onward")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// dbFlag registers the flag shared by every store-backed command.
func dbFlag(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.DB.Path, "db", cfg.DB.Path, "Path to the sqlite database")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dbFlag(fs, cfg)
	input := fs.String("input", cfg.Pipeline.InputPath, "CSV or parquet file to ingest (empty advances existing bronze rows)")
	fs.StringVar(&cfg.Pipeline.ExportDir, "export-dir", cfg.Pipeline.ExportDir, "Directory for parquet exports")
	noExport := fs.Bool("no-export", !cfg.Pipeline.ExportEnabled, "Skip the export stage")
	fs.BoolVar(&cfg.GCS.Enabled, "upload", cfg.GCS.Enabled, "Upload exported files to GCS")
	fs.BoolVar(&cfg.BigQuery.Enabled, "publish", cfg.BigQuery.Enabled, "Publish new gold summaries to BigQuery")
	fs.Parse(args)
	cfg.Pipeline.ExportEnabled = !*noExport
	if err := cfg.Validate(); err != nil {
		return err
	}

	var batch *source.Batch
	if *input != "" {
		batch = source.Load(*input)
		if batch.Err != nil {
			log.Error().Err(batch.Err).Str("input", *input).Msg("Failed to read input batch")
		} else {
			log.Info().Str("input", *input).Int("rows", len(batch.Rows)).Msg("Read input batch")
		}
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.EnsureBuckets(ctx); err != nil {
		return fmt.Errorf("ensure buckets: %w", err)
	}

	report, runErr := a.Orchestrator.Run(ctx, batch)
	if err := a.WriteMetrics(); err != nil {
		log.Warn().Err(err).Msg("Failed to write metrics")
	}
	if err := printJSON(report); err != nil {
		return err
	}
	return runErr
}

func runExport(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbFlag(fs, cfg)
	fs.StringVar(&cfg.Pipeline.ExportDir, "dir", cfg.Pipeline.ExportDir, "Output directory")
	layerName := fs.String("layer", "", "Layer to export: bronze, silver or gold (default all)")
	fs.BoolVar(&cfg.GCS.Enabled, "upload", cfg.GCS.Enabled, "Upload exported files to GCS")
	fs.Parse(args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var artifacts []export.Artifact
	if *layerName == "" {
		artifacts, err = a.Exporter.ExportAll(ctx)
	} else {
		layer, perr := domain.ParseLayer(*layerName)
		if perr != nil {
			return perr
		}
		var art export.Artifact
		art, err = a.Exporter.ExportLayer(ctx, layer)
		if err == nil {
			artifacts = append(artifacts, art)
		}
	}
	for _, art := range artifacts {
		fmt.Printf("%-6s %6d rows  %s\n", art.Layer, art.Rows, art.Path)
	}
	if err != nil {
		return err
	}

	if a.Uploader != nil && len(artifacts) > 0 {
		if err := a.EnsureBuckets(ctx); err != nil {
			return fmt.Errorf("ensure buckets: %w", err)
		}
		return a.Uploader.UploadArtifacts(ctx, artifacts)
	}
	return nil
}

func runGenerate(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	gen := generator.Config{}
	fs.IntVar(&gen.Records, "records", cfg.Generator.Records, "Number of transactions")
	fs.IntVar(&gen.Customers, "customers", cfg.Generator.Customers, "Size of the customer pool")
	fs.IntVar(&gen.Merchants, "merchants", cfg.Generator.Merchants, "Size of the merchant pool")
	fs.IntVar(&gen.Days, "days", cfg.Generator.Days, "Spread timestamps over this many past days")
	fs.Int64Var(&gen.Seed, "seed", cfg.Generator.Seed, "Random seed (0 picks one)")
	out := fs.String("out", "data/financial_transactions.csv", "Output file (.csv or .parquet)")
	fs.Parse(args)

	start := time.Now()
	rows := generator.New(gen).Generate()
	if err := generator.WriteFile(*out, rows); err != nil {
		return err
	}

	log.Info().
		Int("records", len(rows)).
		Str("out", *out).
		Dur("duration", time.Since(start)).
		Msg("Generated transactions")
	return nil
}

func runUpload(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	layerName := fs.String("layer", "", "Layer bucket to upload to (required)")
	file := fs.String("file", "", "Local file to upload (required)")
	fs.StringVar(&cfg.GCS.ProjectID, "project", cfg.GCS.ProjectID, "GCP project ID")
	fs.Parse(args)

	if *layerName == "" || *file == "" {
		return errors.New("usage: cli upload -layer LAYER -file PATH")
	}
	layer, err := domain.ParseLayer(*layerName)
	if err != nil {
		return err
	}

	cfg.GCS.Enabled = true
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.EnsureBuckets(ctx); err != nil {
		return fmt.Errorf("ensure buckets: %w", err)
	}
	up, err := a.Uploader.UploadFile(ctx, layer, *file)
	if err != nil {
		return err
	}
	return printJSON(up)
}

func runBuckets(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("buckets", flag.ExitOnError)
	fs.StringVar(&cfg.GCS.ProjectID, "project", cfg.GCS.ProjectID, "GCP project ID")
	fs.Parse(args)

	cfg.GCS.Enabled = true
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Uploader.Stats(ctx)
	if err != nil {
		return err
	}
	for _, layer := range domain.Layers {
		s := stats[layer]
		fmt.Printf("%-30s %6d objects  %10d bytes  avg %.0f\n",
			a.Uploader.BucketName(layer), s.Objects, s.TotalBytes, s.AverageBytes())
	}
	return nil
}

func runStats(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbFlag(fs, cfg)
	fs.Parse(args)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Store.Stats(ctx)
	if err != nil {
		return err
	}
	frontier, _, err := a.Gold.Frontier(ctx)
	if err != nil {
		return err
	}
	return printJSON(struct {
		domain.LayerStats
		Frontier string `json:"gold_frontier,omitempty"`
	}{stats, frontier})
}

func runReaggregate(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("reaggregate", flag.ExitOnError)
	dbFlag(fs, cfg)
	from := fs.String("from", "", "First summary date to recompute, YYYY-MM-DD (required)")
	fs.Parse(args)

	if *from == "" {
		return errors.New("usage: cli reaggregate -from YYYY-MM-DD")
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Gold.Reaggregate(ctx, *from)
	if err != nil {
		return err
	}
	if a.Publisher != nil && len(res.Written) > 0 {
		if err := a.Publisher.Publish(ctx, res.Written); err != nil {
			return fmt.Errorf("publish gold summaries: %w", err)
		}
	}
	return printJSON(res)
}
