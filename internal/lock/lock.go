// Package lock serialises writers of a single draft.
//
// Local is enough for a single process. Redis coordinates several API and worker
// instances through the RedLock algorithm.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockBusy is returned when the lock is held elsewhere and could not be acquired in time.
var ErrLockBusy = errors.New("lock is held by another writer")

// ErrLockLost is returned when a held lock expired or was taken over before fn finished.
var ErrLockLost = errors.New("lock was lost while held")

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// DraftKey returns the lock key of a draft.
func DraftKey(ownerID, draftID string) string {
	return "lock:draft:" + ownerID + ":" + draftID
}

// Local is an in-process keyed mutex. Waiting respects context cancellation.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	held chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*localEntry)}
}

// WithLock implements Locker.
func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.acquireEntry(key)
	defer l.releaseEntry(key, e)

	select {
	case e.held <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.held }()

	return fn(ctx)
}

func (l *Local) acquireEntry(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{held: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Local) releaseEntry(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

var _ Locker = (*Local)(nil)
