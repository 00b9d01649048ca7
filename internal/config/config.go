// Package config loads service configuration from an optional YAML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Log      LogConfig            `yaml:"log"`
	Store    string               `yaml:"store"` // "bigquery" or "memory"
	BigQuery BigQueryConfig       `yaml:"bigquery"`
	Storage  StorageConfig        `yaml:"storage"`
	Redis    RedisConfig          `yaml:"redis"`
	Split    domain.SplitSettings `yaml:"split"`
	Jobs     JobsConfig           `yaml:"jobs"`
	Gemini   GeminiConfig         `yaml:"gemini"`
	Notion   NotionConfig         `yaml:"notion"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type BigQueryConfig struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
}

type StorageConfig struct {
	// Bucket receives attachment blobs. Statement imports may read from any bucket.
	Bucket string `yaml:"bucket"`
}

// RedisConfig enables the distributed draft lock when Addr is set.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	LockExpiry time.Duration `yaml:"lock_expiry"`
}

type JobsConfig struct {
	Workers    int `yaml:"workers"`
	QueueSize  int `yaml:"queue_size"`
	MaxRetries int `yaml:"max_retries"`
	// Retain caps the finished import jobs kept for status queries. Zero keeps all.
	Retain int `yaml:"retain"`
	// SweepSchedule is a cron expression for re-classifying open drafts. Empty disables the sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

type GeminiConfig struct {
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	Model    string `yaml:"model"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", ShutdownTimeout: 30 * time.Second},
		Log:    LogConfig{Level: "info"},
		Store:  "bigquery",
		BigQuery: BigQueryConfig{
			ProjectID: "statement-booking",
			Dataset:   "booking",
		},
		Redis: RedisConfig{LockExpiry: 30 * time.Second},
		Split: domain.SplitSettings{
			Mode:                  domain.SplitModeMonthlyOrFixed,
			MaxEntriesPerDraft:    250,
			MonthlySplitThreshold: 250,
			MinEntriesPerDraft:    8,
		},
		Jobs: JobsConfig{
			Workers:       4,
			QueueSize:     100,
			MaxRetries:    3,
			Retain:        1000,
			SweepSchedule: "0 */6 * * *",
		},
		Gemini: GeminiConfig{Location: "us-central1", Model: "gemini-2.5-flash"},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("Load: read .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("Load: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("Load: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &cfg.Server.Port)
	duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	str("LOG_LEVEL", &cfg.Log.Level)
	if v, ok := lookup("LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_JSON: %w", err))
		} else {
			cfg.Log.JSON = b
		}
	}
	str("STORE", &cfg.Store)
	str("BQ_PROJECT_ID", &cfg.BigQuery.ProjectID)
	str("BQ_DATASET", &cfg.BigQuery.Dataset)
	str("GCS_BUCKET", &cfg.Storage.Bucket)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	integer("REDIS_DB", &cfg.Redis.DB)
	duration("LOCK_EXPIRY", &cfg.Redis.LockExpiry)

	if v, ok := lookup("SPLIT_MODE"); ok && v != "" {
		mode, err := domain.ParseSplitMode(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SPLIT_MODE: %w", err))
		} else {
			cfg.Split.Mode = mode
		}
	}
	integer("SPLIT_MAX_ENTRIES", &cfg.Split.MaxEntriesPerDraft)
	integer("SPLIT_MONTHLY_THRESHOLD", &cfg.Split.MonthlySplitThreshold)
	integer("SPLIT_MIN_ENTRIES", &cfg.Split.MinEntriesPerDraft)

	integer("JOB_WORKERS", &cfg.Jobs.Workers)
	integer("JOB_QUEUE_SIZE", &cfg.Jobs.QueueSize)
	integer("JOB_MAX_RETRIES", &cfg.Jobs.MaxRetries)
	integer("JOB_RETAIN", &cfg.Jobs.Retain)
	if v, ok := lookup("SWEEP_SCHEDULE"); ok {
		cfg.Jobs.SweepSchedule = v
	}

	str("GEMINI_PROJECT", &cfg.Gemini.Project)
	str("GEMINI_LOCATION", &cfg.Gemini.Location)
	str("GEMINI_MODEL", &cfg.Gemini.Model)
	str("NOTION_TOKEN", &cfg.Notion.Token)
	str("NOTION_DATABASE_ID", &cfg.Notion.DatabaseID)

	return errors.Join(errs...)
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	switch c.Store {
	case "memory":
	case "bigquery":
		if c.BigQuery.ProjectID == "" || c.BigQuery.Dataset == "" {
			errs = append(errs, errors.New("bigquery project_id and dataset are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if _, err := domain.ParseSplitMode(string(c.Split.Mode)); err != nil {
		errs = append(errs, err)
	}
	if c.Split.MaxEntriesPerDraft < 0 || c.Split.MinEntriesPerDraft < 0 || c.Split.MonthlySplitThreshold < 0 {
		errs = append(errs, errors.New("split sizes must not be negative"))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("at least one job worker is required"))
	}
	if c.Jobs.QueueSize < 1 {
		errs = append(errs, errors.New("job queue size must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.LockExpiry <= 0 {
		errs = append(errs, errors.New("lock expiry must be positive"))
	}
	return errors.Join(errs...)
}
