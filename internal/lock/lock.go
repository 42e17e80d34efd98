// Package lock implements the two advisory file lock kinds spec.md §4.11
// requires: a single store lock (shared by most operations, exclusive
// during snapshot writes/GC/tag mutations) and one build lock per
// fingerprint (exclusive during realization, with polling contention and
// rendezvous on an already-completed object).
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/fingerprint"
)

// defaultPoll is the polite poll interval used while waiting on a
// contended lock, per spec.md §4.11 and §5.
const defaultPoll = 50 * time.Millisecond

// StoreLock guards the snapshot index, current pointer, and tag mutations.
// Most operations take it shared; snapshot writes, GC, and tag mutations
// take it exclusive.
type StoreLock struct {
	fl *flock.Flock
}

// NewStoreLock opens (without acquiring) the store lock file at path.
func NewStoreLock(path string) *StoreLock {
	return &StoreLock{fl: flock.New(path)}
}

// Shared blocks until a shared (read) lock is acquired or ctx is done.
func (l *StoreLock) Shared(ctx context.Context) error {
	ok, err := l.fl.TryRLockContext(ctx, defaultPoll)
	if err != nil {
		return errs.New(errs.LockContention, "", "", fmt.Errorf("store lock (shared): %w", err))
	}
	if !ok {
		return errs.New(errs.LockContention, "", "", fmt.Errorf("store lock (shared): not acquired"))
	}
	return nil
}

// Exclusive blocks until an exclusive (write) lock is acquired or ctx is
// done.
func (l *StoreLock) Exclusive(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, defaultPoll)
	if err != nil {
		return errs.New(errs.LockContention, "", "", fmt.Errorf("store lock (exclusive): %w", err))
	}
	if !ok {
		return errs.New(errs.LockContention, "", "", fmt.Errorf("store lock (exclusive): not acquired"))
	}
	return nil
}

// Unlock releases whichever lock mode is currently held.
func (l *StoreLock) Unlock() error {
	return l.fl.Unlock()
}

// BuildLock is the per-fingerprint exclusive lock taken during
// realization. The lock file doubles as a rendezvous point: a waiter that
// acquires it after a builder released it should recheck completeness
// before assuming it must build.
type BuildLock struct {
	fl *flock.Flock
	fp fingerprint.Digest
}

// NewBuildLock opens (without acquiring) the build lock file for fp at
// path.
func NewBuildLock(path string, fp fingerprint.Digest) *BuildLock {
	return &BuildLock{fl: flock.New(path), fp: fp}
}

// Acquire blocks, polling at pollInterval (or defaultPoll if zero), until
// the lock is held or ctx is done.
func (l *BuildLock) Acquire(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = defaultPoll
	}
	ok, err := l.fl.TryLockContext(ctx, pollInterval)
	if err != nil {
		return errs.New(errs.LockContention, "", l.fp.String(), fmt.Errorf("build lock: %w", err))
	}
	if !ok {
		return errs.New(errs.LockContention, "", l.fp.String(), fmt.Errorf("build lock: not acquired"))
	}
	return nil
}

// Release releases the build lock, letting the next waiter (if any)
// rendezvous on the now-possibly-complete object.
func (l *BuildLock) Release() error {
	return l.fl.Unlock()
}

// NoBuildLocksHeld reports whether every build-*.lock file under locksDir
// is currently uncontended, by attempting (and immediately releasing) a
// single non-blocking exclusive lock on each. GC refuses to run while any
// build lock is held (spec.md §4.10).
func NoBuildLocksHeld(locksDir string) (bool, error) {
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "build-") {
			continue
		}
		fl := flock.New(filepath.Join(locksDir, e.Name()))
		ok, err := fl.TryLock()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if err := fl.Unlock(); err != nil {
			return false, err
		}
	}
	return true, nil
}
