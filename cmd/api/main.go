package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/medallion-pipeline/internal/api"
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

	port := flag.String("port", cfg.API.Port, "HTTP server port")
	flag.StringVar(&cfg.DB.Path, "db", cfg.DB.Path, "Path to the sqlite database")
	flag.Parse()

	log, err := logger.NewFromConfig(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := a.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure layer buckets")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Worker.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.Worker.Workers),
		inmemory.WithMaxRetries(cfg.Worker.MaxRetries),
		inmemory.WithRetryBackoff(cfg.Worker.RetryBackoff),
		inmemory.WithLogger(log),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewPipelineHandler(a.Orchestrator, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	handler := api.NewRouter(api.Deps{
		Store:     a.Store,
		Frontier:  a.Gold,
		Publisher: jobQueue,
		Jobs:      jobStore,
		Gatherer:  a.Registry,
		Log:       log,
	})

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight runs before closing the store
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
