// Package app wires the services shared by the API server, the worker and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/attachments"
	"github.com/dvloznov/statement-booking/internal/config"
	"github.com/dvloznov/statement-booking/internal/drafts"
	"github.com/dvloznov/statement-booking/internal/gcs"
	"github.com/dvloznov/statement-booking/internal/gcsuploader"
	bqstore "github.com/dvloznov/statement-booking/internal/infra/bigquery"
	"github.com/dvloznov/statement-booking/internal/infra/inmemory"
	"github.com/dvloznov/statement-booking/internal/lock"
	"github.com/dvloznov/statement-booking/internal/repository"
	"github.com/dvloznov/statement-booking/internal/statement"
)

// App holds the wired services of one process.
type App struct {
	Config      config.Config
	Repo        repository.Repository
	Locker      lock.Locker
	Storage     gcs.StorageService
	Registry    *statement.Registry
	Attachments *attachments.Service
	Drafts      *drafts.Service

	closers []func() error
}

// New builds the services described by cfg. Close releases the clients it opened.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	storage := gcsuploader.NewClient()
	a := &App{Config: cfg, Storage: storage, closers: []func() error{storage.Close}}

	switch cfg.Store {
	case "memory":
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		a.Repo = inmemory.NewRepository()
	default:
		repo, err := bqstore.NewRepository(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Repo = repo
		a.closers = append(a.closers, repo.Close)
	}

	locker, err := a.newLocker(ctx, cfg.Redis, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Locker = locker

	a.Registry = statement.NewRegistry(log, statement.NewCSVReader(), statement.NewXLSXReader())
	if cfg.Gemini.Project != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		model, err := statement.NewGeminiModel(ctx, cfg.Gemini.Project, cfg.Gemini.Location, cfg.Gemini.Model)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Registry.Register(statement.NewGeminiReader(model))
	} else {
		log.Info().Msg("Gemini not configured; PDF statements are not supported")
	}

	a.Attachments = attachments.NewService(a.Repo, a.Storage, cfg.Storage.Bucket)
	a.Drafts = drafts.NewService(drafts.Dependencies{
		Repo:        a.Repo,
		Locker:      a.Locker,
		Parser:      a.Registry,
		Storage:     a.Storage,
		Attachments: a.Attachments,
		Settings:    cfg.Split,
	}, log)
	return a, nil
}

// newLocker returns a Redis locker when an address is configured and a process-local one otherwise.
func (a *App) newLocker(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (lock.Locker, error) {
	if cfg.Addr == "" {
		log.Info().Msg("Redis not configured; draft locks are process-local")
		return lock.NewLocal(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("newLocker: ping redis at %s: %w", cfg.Addr, err)
	}

	opts := lock.DefaultOptions()
	if cfg.LockExpiry > 0 {
		opts.Expiry = cfg.LockExpiry
	}
	locker, err := lock.NewRedis(client, opts, log)
	if err != nil {
		return nil, fmt.Errorf("newLocker: %w", err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("Using Redis draft locks")
	return locker, nil
}

// Close closes every client opened by New, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
