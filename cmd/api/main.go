package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/bill-parser/internal/api/handlers"
	"github.com/dvloznov/bill-parser/internal/api/middleware"
	"github.com/dvloznov/bill-parser/internal/app"
	"github.com/dvloznov/bill-parser/internal/config"
	"github.com/dvloznov/bill-parser/internal/jobs/inmemory"
	"github.com/dvloznov/bill-parser/internal/logger"
	"github.com/dvloznov/bill-parser/internal/metrics"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	port := flag.String("port", cfg.Server.Port, "Port to listen on")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)
	decimal.MarshalJSONWithoutQuotes = true

	ctx := logger.WithContext(context.Background(), log)

	defaults, err := app.DefaultSettings(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SettingsPath).Msg("Failed to load default settings")
	}

	recorder := metrics.NewRecorder()
	pipe, err := app.NewPipeline(ctx, cfg, log, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}

	routes := handlers.Routes{
		Bills:   handlers.NewBillsHandler(pipe, defaults),
		Metrics: recorder.Handler(),
	}

	// Background jobs need GCS; the ledger is optional on top of that.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	var jobQueue *inmemory.Queue
	if cfg.Storage.Bucket != "" {
		backends, err := app.OpenBackends(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to cloud backends")
		}
		defer backends.Close()

		jobStore := inmemory.NewStore(inmemory.WithMaxJobs(cfg.Server.JobHistory))
		jobQueue = inmemory.NewQueue(100, cfg.Server.Workers, jobStore)
		ingestSvc := backends.IngestService(cfg, pipe)
		if err := jobQueue.Start(workerCtx, ingestSvc.HandleJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job workers")
		}

		routes.Jobs = handlers.NewJobsHandler(jobQueue, jobStore, defaults, log)
		if backends.Ledger != nil {
			routes.Runs = handlers.NewRunsHandler(backends.Ledger, log)
		}
		log.Info().
			Str("bucket", cfg.Storage.Bucket).
			Bool("ledger", backends.Ledger != nil).
			Int("workers", cfg.Server.Workers).
			Msg("Job processing enabled")
	} else {
		log.Warn().Msg("GCS_BUCKET not set; job endpoints disabled")
	}

	handler := middleware.Chain(handlers.NewRouter(routes),
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
		middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		middleware.MaxBytes(cfg.Server.MaxUploadBytes),
	)

	// WriteTimeout leaves room for a full extraction.
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Gemini.Timeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if jobQueue != nil {
		// In-flight jobs finish before their context is cancelled.
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
		cancelWorker()
		if err := jobQueue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close job queue")
		}
	}

	log.Info().Msg("Server exited")
}
