package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-booking/internal/app"
	"github.com/dvloznov/statement-booking/internal/config"
	"github.com/dvloznov/statement-booking/internal/jobs"
	"github.com/dvloznov/statement-booking/internal/logger"
)

// The worker runs the scheduled maintenance of open drafts. Import jobs are consumed by the
// API process that accepted them.
func main() {
	var (
		configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "Path to an optional YAML config file (or set CONFIG_FILE env)")
		once       = flag.Bool("once", false, "Run the open draft sweep once and exit")
	)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	defer services.Close()

	if *once {
		sweepCtx, sweepCancel := context.WithTimeout(ctx, jobs.SweepTimeout)
		defer sweepCancel()
		if err := jobs.SweepOpenDrafts(sweepCtx, services.Repo, services.Drafts, log); err != nil {
			log.Error().Err(err).Msg("Open draft sweep failed")
			os.Exit(1)
		}
		return
	}

	if cfg.Jobs.SweepSchedule == "" {
		log.Fatal().Msg("No sweep schedule configured; set SWEEP_SCHEDULE or run with -once")
	}

	scheduler := jobs.NewScheduler(time.UTC, log)
	if err := scheduler.AddSweep(cfg.Jobs.SweepSchedule, services.Repo, services.Drafts); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule open draft sweep")
	}
	scheduler.Start()

	log.Info().Str("schedule", cfg.Jobs.SweepSchedule).Msg("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
