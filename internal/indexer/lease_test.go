package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/docsearch/internal/models"
)

func TestLease_DistinctScopesRunConcurrently(t *testing.T) {
	l := NewLease("", 0)
	ctx := context.Background()
	releaseGo, err := l.Acquire(ctx, "go")
	if err != nil {
		t.Fatal(err)
	}
	defer releaseGo()

	acquired := make(chan struct{})
	go func() {
		release, err := l.Acquire(ctx, "rust")
		if err == nil {
			release()
		}
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("distinct scope blocked")
	}
}

func TestLease_OverlappingScopesWait(t *testing.T) {
	l := NewLease("", 0)
	ctx := context.Background()
	release, err := l.Acquire(ctx, "go")
	if err != nil {
		t.Fatal(err)
	}

	for _, scope := range []string{"go", ""} {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		_, err := l.Acquire(waitCtx, scope)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Acquire(%q) while go held = %v, want DeadlineExceeded", scope, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		r, err := l.Acquire(ctx, "")
		if err == nil {
			r()
		}
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Acquire after release = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken after release")
	}
}

func TestLease_FileLockAcrossLeases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.lock")
	first := NewLease(path, 0)
	release, err := first.Acquire(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}

	// A second lease stands in for another process sharing the data dir.
	second := NewLease(path, 50*time.Millisecond)
	if _, err := second.Acquire(context.Background(), "rust"); !errors.Is(err, models.ErrBuildInProgress) {
		t.Errorf("second Acquire = %v, want ErrBuildInProgress", err)
	}

	release()
	r, err := second.Acquire(context.Background(), "rust")
	if err != nil {
		t.Fatalf("Acquire after release = %v", err)
	}
	r()
}

func TestLease_ReleaseIsIdempotent(t *testing.T) {
	l := NewLease("", 0)
	release, _ := l.Acquire(context.Background(), "")
	release()
	release()
	r, err := l.Acquire(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	r()
}
