package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/medallion-pipeline/internal/app"
	"github.com/dvloznov/medallion-pipeline/internal/config"
	"github.com/dvloznov/medallion-pipeline/internal/jobs"
	"github.com/dvloznov/medallion-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/medallion-pipeline/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Worker.Schedule, "schedule", cfg.Worker.Schedule, "Cron schedule for pipeline runs")
	flag.StringVar(&cfg.Pipeline.InputPath, "input", cfg.Pipeline.InputPath, "File ingested by every scheduled run")
	runNow := flag.Bool("now", false, "Enqueue one run at startup")
	flag.Parse()

	log, err := logger.NewFromConfig(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := a.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure layer buckets")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Worker.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.Worker.Workers),
		inmemory.WithMaxRetries(cfg.Worker.MaxRetries),
		inmemory.WithRetryBackoff(cfg.Worker.RetryBackoff),
		inmemory.WithLogger(log),
	)

	handler := jobs.NewPipelineHandler(a.Orchestrator, log)
	if err := jobQueue.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		err := handler(ctx, job)
		if werr := a.WriteMetrics(); werr != nil {
			log.Warn().Err(werr).Msg("Failed to write metrics")
		}
		return err
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	enqueue := func() {
		job := &jobs.RunPipelineJob{InputPath: cfg.Pipeline.InputPath, Trigger: jobs.TriggerSchedule}
		if err := jobQueue.PublishRunPipeline(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue scheduled run")
			return
		}
		log.Info().Str("job_id", job.JobID).Msg("Scheduled run enqueued")
	}

	scheduler := cron.New(cron.WithLogger(cronLogger{log}))
	if _, err := scheduler.AddFunc(cfg.Worker.Schedule, enqueue); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Worker.Schedule).Msg("Invalid schedule")
	}
	scheduler.Start()
	if *runNow {
		enqueue()
	}

	log.Info().Str("schedule", cfg.Worker.Schedule).Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Stop scheduling new runs first, then let the in-flight run finish
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
