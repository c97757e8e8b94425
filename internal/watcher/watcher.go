// Package watcher watches the corpus tree with fsnotify and reports which
// technologies changed, debounced per technology.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/indexer"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher watches a corpus root and calls onChange with the technology whose
// files were created, written, renamed or removed.
type Watcher struct {
	corpus   *indexer.Corpus
	onChange func(tech string)
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	inFlight sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a technology must stay quiet before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over corpus. onChange runs on its own goroutine
// and is never called concurrently for the same technology burst.
func NewWatcher(corpus *indexer.Corpus, onChange func(tech string), opts ...Option) *Watcher {
	w := &Watcher{
		corpus:   corpus,
		onChange: onChange,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching every directory under the corpus root, creating the
// root when it is missing. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	root := filepath.Clean(w.corpus.Root())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addTree(fsw, root); err != nil {
		_ = fsw.Close()
		return err
	}
	w.watcher = fsw
	w.started = true
	w.logger.Debug("watcher starting", zap.String("root", root), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	tech, ok := w.techOf(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name), zap.String("tech", tech))

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addTree(fsw, ev.Name); err != nil {
				w.logger.Warn("watcher failed to add directory", zap.String("path", ev.Name), zap.Error(err))
			}
			w.schedule(tech)
			return
		}
	}
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) || w.corpus.Allowed(ev.Name) {
		// A removed path may have been a directory, so its extension says nothing.
		w.schedule(tech)
	}
}

// techOf maps an absolute path to the technology directory it lives in.
func (w *Watcher) techOf(path string) (string, bool) {
	rel, err := w.corpus.Rel(path)
	if err != nil || rel == "." {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	tech, _, _ := strings.Cut(rel, "/")
	if !w.corpus.KnownTech(tech) {
		return "", false
	}
	return tech, true
}

func (w *Watcher) schedule(tech string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[tech]; ok {
		t.Stop()
	}
	w.pending[tech] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if !w.started {
			w.mu.Unlock()
			return
		}
		delete(w.pending, tech)
		w.inFlight.Add(1)
		w.mu.Unlock()
		defer w.inFlight.Done()
		w.logger.Debug("watcher firing change", zap.String("tech", tech))
		if w.onChange != nil {
			w.onChange(tech)
		}
	})
}

// Pending returns the number of technologies waiting for their debounce to expire.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Stop stops the watcher, drops pending changes and waits for onChange calls
// already running to return. It must not be called from onChange.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		w.inFlight.Wait()
		return
	}
	for tech, t := range w.pending {
		t.Stop()
		delete(w.pending, tech)
	}
	_ = w.watcher.Close()
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inFlight.Wait()
}

// addTree watches root and every non-hidden directory below it.
func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
