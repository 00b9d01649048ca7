package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options configures the Redis locker.
type Options struct {
	// Expiry bounds how long a crashed holder blocks the draft. A live holder
	// extends the lock every Expiry/3.
	Expiry time.Duration
	// Tries is the number of acquisition attempts.
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions suits draft operations that finish within seconds.
func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      20,
		RetryDelay: 250 * time.Millisecond,
	}
}

// Redis is a distributed locker backed by redsync.
type Redis struct {
	rs   *redsync.Redsync
	opts Options
	log  zerolog.Logger
}

// NewRedis creates a distributed locker using the given client.
func NewRedis(client redis.UniversalClient, opts Options, log zerolog.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("NewRedis: redis client is nil")
	}
	if opts.Expiry <= 0 || opts.Tries < 1 || opts.RetryDelay < 0 {
		return nil, fmt.Errorf("NewRedis: invalid options %+v", opts)
	}
	return &Redis{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log,
	}, nil
}

// WithLock implements Locker.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("WithLock: lock key is empty")
	}

	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return fmt.Errorf("WithLock: %s: %w", key, ErrLockBusy)
		}
		return fmt.Errorf("WithLock: acquire %s: %w", key, err)
	}
	r.log.Debug().Str("lock_key", key).Msg("Lock acquired")

	fnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(fnCtx, mutex, key, cancel, stop)
	}()

	err := fn(fnCtx)
	close(stop)
	wg.Wait()

	if errors.Is(context.Cause(fnCtx), ErrLockLost) {
		return fmt.Errorf("WithLock: %s: %w", key, errors.Join(ErrLockLost, err))
	}

	// Release with a fresh context so a cancelled request still frees the key.
	ok, unlockErr := mutex.UnlockContext(context.WithoutCancel(ctx))
	if unlockErr != nil || !ok {
		r.log.Warn().Err(unlockErr).Str("lock_key", key).Bool("unlock_ok", ok).Msg("Failed to release lock")
	}
	return err
}

// keepAlive extends the lock until stop is closed. A failed extension cancels the holder's
// context with ErrLockLost.
func (r *Redis) keepAlive(ctx context.Context, mutex *redsync.Mutex, key string, lost context.CancelCauseFunc, stop <-chan struct{}) {
	interval := r.opts.Expiry / 3
	if interval <= 0 {
		interval = r.opts.Expiry
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := mutex.ExtendContext(context.WithoutCancel(ctx))
			if err != nil || !ok {
				r.log.Warn().Err(err).Str("lock_key", key).Msg("Lock lost while held")
				lost(ErrLockLost)
				return
			}
		}
	}
}

// isContention reports whether the error means another holder owns the key.
func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	return strings.Contains(err.Error(), "lock already taken")
}

var _ Locker = (*Redis)(nil)
