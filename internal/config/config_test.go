package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, domain.SplitModeMonthlyOrFixed, cfg.Split.Mode)
	assert.Equal(t, 250, cfg.Split.MaxEntriesPerDraft)
	assert.Equal(t, 250, cfg.Split.MonthlySplitThreshold)
	assert.Equal(t, 8, cfg.Split.MinEntriesPerDraft)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
store: memory
split:
  mode: Monthly
  max_entries_per_draft: 100
  min_entries_per_draft: 5
jobs:
  workers: 2
redis:
  addr: localhost:6379
  lock_expiry: 45s
`), 0o600))

	t.Setenv("SPLIT_MIN_ENTRIES", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, domain.SplitModeMonthly, cfg.Split.Mode)
	assert.Equal(t, 100, cfg.Split.MaxEntriesPerDraft)
	assert.Equal(t, 250, cfg.Split.MonthlySplitThreshold)
	assert.Equal(t, 3, cfg.Split.MinEntriesPerDraft)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, 45*time.Second, cfg.Redis.LockExpiry)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":           "7000",
		"LOG_JSON":       "true",
		"SPLIT_MODE":     "FixedSize",
		"JOB_WORKERS":    "8",
		"SWEEP_SCHEDULE": "",
		"LOCK_EXPIRY":    "1m",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, domain.SplitModeFixedSize, cfg.Split.Mode)
	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Empty(t, cfg.Jobs.SweepSchedule)
	assert.Equal(t, time.Minute, cfg.Redis.LockExpiry)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		"JOB_WORKERS": "many",
		"SPLIT_MODE":  "Weekly",
		"LOCK_EXPIRY": "soon",
	}
	cfg := Default()
	err := applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOB_WORKERS")
	assert.Contains(t, err.Error(), "SPLIT_MODE")
	assert.Contains(t, err.Error(), "LOCK_EXPIRY")
	assert.Equal(t, 4, cfg.Jobs.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"unknown store", func(c *Config) { c.Store = "postgres" }},
		{"missing dataset", func(c *Config) { c.BigQuery.Dataset = "" }},
		{"bad split mode", func(c *Config) { c.Split.Mode = "Weekly" }},
		{"negative max", func(c *Config) { c.Split.MaxEntriesPerDraft = -1 }},
		{"no workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"zero lock expiry", func(c *Config) { c.Redis.Addr = "x:1"; c.Redis.LockExpiry = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
