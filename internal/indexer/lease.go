package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/hyperjump/docsearch/internal/models"
)

const lockRetryDelay = 50 * time.Millisecond

// Lease serializes builds whose scopes overlap. A scope is a technology; the
// empty scope covers every technology. Within a process distinct technologies
// build concurrently. Across processes a file lock is held while any build runs.
type Lease struct {
	mu      sync.Mutex
	held    map[string]int
	changed chan struct{}

	fileMu      sync.Mutex
	file        *flock.Flock
	fileRefs    int
	fileTimeout time.Duration
}

// NewLease creates a lease. lockPath may be empty to skip cross-process
// locking; timeout bounds the wait for another process's lock.
func NewLease(lockPath string, timeout time.Duration) *Lease {
	l := &Lease{
		held:        make(map[string]int),
		changed:     make(chan struct{}),
		fileTimeout: timeout,
	}
	if lockPath != "" {
		l.file = flock.New(lockPath)
	}
	return l
}

// Acquire waits until scope no longer overlaps a running build and returns
// the release function. Cancelling ctx aborts the wait.
func (l *Lease) Acquire(ctx context.Context, scope string) (func(), error) {
	if err := l.acquireScope(ctx, scope); err != nil {
		return nil, err
	}
	if err := l.acquireFile(ctx); err != nil {
		l.releaseScope(scope)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.releaseFile()
			l.releaseScope(scope)
		})
	}, nil
}

func (l *Lease) overlaps(scope string) bool {
	if scope == "" {
		return len(l.held) > 0
	}
	return l.held[scope] > 0 || l.held[""] > 0
}

func (l *Lease) acquireScope(ctx context.Context, scope string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		l.mu.Lock()
		if !l.overlaps(scope) {
			l.held[scope]++
			l.mu.Unlock()
			return nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (l *Lease) releaseScope(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[scope]--
	if l.held[scope] <= 0 {
		delete(l.held, scope)
	}
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *Lease) acquireFile(ctx context.Context) error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file == nil || l.fileRefs > 0 {
		l.fileRefs++
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.file.Path()), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	lockCtx := ctx
	if l.fileTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.fileTimeout)
		defer cancel()
	}
	locked, err := l.file.TryLockContext(lockCtx, lockRetryDelay)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err != nil && lockCtx.Err() == nil {
		return fmt.Errorf("failed to acquire build lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s is held by another process", models.ErrBuildInProgress, l.file.Path())
	}
	l.fileRefs++
	return nil
}

func (l *Lease) releaseFile() {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	l.fileRefs--
	if l.fileRefs == 0 && l.file != nil {
		_ = l.file.Unlock()
	}
}
