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

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/api/handlers"
	"github.com/dvloznov/statement-booking/internal/api/middleware"
	"github.com/dvloznov/statement-booking/internal/app"
	"github.com/dvloznov/statement-booking/internal/config"
	"github.com/dvloznov/statement-booking/internal/jobs"
	"github.com/dvloznov/statement-booking/internal/jobs/inmemory"
	"github.com/dvloznov/statement-booking/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to an optional YAML config file (or set CONFIG_FILE env)")
	flag.Parse()

	bootLog := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	log, err := logger.NewFromOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to create logger")
	}

	ctx := context.Background()
	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	defer services.Close()

	if cfg.Storage.Bucket == "" {
		log.Warn().Msg("No GCS bucket configured - uploads and attachments are disabled")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStoreWithRetention(cfg.Jobs.Retain)
	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.Jobs.QueueSize,
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
	}, jobStore, log)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := jobQueue.Start(workerCtx, jobs.NewImportHandler(services.Drafts, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	scheduler := jobs.NewScheduler(time.UTC, log)
	if cfg.Jobs.SweepSchedule != "" {
		if err := scheduler.AddSweep(cfg.Jobs.SweepSchedule, services.Repo, services.Drafts); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule open draft sweep")
		}
	}
	scheduler.Start()

	deps := handlers.Dependencies{
		Drafts:    services.Drafts,
		Publisher: jobQueue,
		Jobs:      jobStore,
	}
	if cfg.Storage.Bucket != "" {
		deps.Attachments = services.Attachments
		deps.Storage = services.Storage
		deps.Bucket = cfg.Storage.Bucket
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newHandler(deps, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("store", cfg.Store).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping scheduler")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}

// newHandler registers the API routes and wraps them in the middleware chain.
func newHandler(deps handlers.Dependencies, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	handlers.Register(mux, deps, log)

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)
}
