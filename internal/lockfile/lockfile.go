// Package lockfile implements the per-root and per-home file lock that
// serializes mutating operations. A single lock file, acquired for the
// scope of one operation, orders mutations across processes; readers
// proceed lock-free per the concurrency model.
package lockfile

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"github.com/workmesh/workmesh/internal/werr"
)

// DefaultTimeout bounds how long Acquire waits for the lock before
// surfacing ConcurrencyError.
const DefaultTimeout = 10 * time.Second

// Lock wraps a flock.Flock bound to a single path.
type Lock struct {
	path  string
	flock *flock.Flock
}

// New returns a Lock for the given path. The file is created on first
// acquisition if it does not already exist.
func New(path string) *Lock {
	return &Lock{path: path, flock: flock.New(path)}
}

// Acquire blocks (with polling) until the lock is held or timeout
// elapses, returning ConcurrencyError on timeout.
func (l *Lock) Acquire(timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := l.flock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, werr.Wrap(werr.ConcurrencyError, err, "could not acquire lock on %s within %s", l.path, timeout)
	}
	return func() { _ = l.flock.Unlock() }, nil
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *Lock) TryAcquire() (func(), bool, error) {
	locked, err := l.flock.TryLock()
	if err != nil {
		return nil, false, werr.Wrap(werr.ConcurrencyError, err, "could not probe lock on %s", l.path)
	}
	if !locked {
		return nil, false, nil
	}
	return func() { _ = l.flock.Unlock() }, true, nil
}
