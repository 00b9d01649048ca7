package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/config"
	"github.com/dvloznov/statement-booking/internal/infra/inmemory"
	"github.com/dvloznov/statement-booking/internal/lock"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("GOOGLE_API_KEY", "")
	cfg := config.Default()
	cfg.Store = "memory"
	return cfg
}

func TestNew_Memory(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &inmemory.Repository{}, a.Repo)
	assert.IsType(t, &lock.Local{}, a.Locker)
	assert.NotNil(t, a.Drafts)
	assert.NotNil(t, a.Attachments)
	assert.NotNil(t, a.Registry)

	drafts, err := a.Drafts.ListOpen(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestNew_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.Redis.Addr = mr.Addr()

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &lock.Redis{}, a.Locker)

	called := false
	err = a.Locker.WithLock(context.Background(), lock.DraftKey("o", "d"), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := memoryConfig(t)
	cfg.Redis.Addr = addr
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
