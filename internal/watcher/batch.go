package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Batch is one coalesced window of filesystem activity, emitted with
// absolute paths grouped by the final operation observed for each path.
type Batch struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the batch carries no paths at all.
func (b Batch) Empty() bool {
	return len(b.Added) == 0 && len(b.Modified) == 0 && len(b.Deleted) == 0
}

// BatchOptions are the Watcher's recognized tunables.
type BatchOptions struct {
	// BatchWindowMs resets on every new event; a batch flushes once this
	// many milliseconds pass without a fresh event.
	BatchWindowMs int
	// MaxBatchWaitMs bounds how long a batch can be held open regardless
	// of BatchWindowMs resets, counted from the batch's first event.
	MaxBatchWaitMs int
	// GitDebounceMs debounces the separate git-state overlay callback.
	GitDebounceMs int
	// WatcherOptions configures the underlying HybridWatcher (ignore
	// patterns, poll interval, event buffer size).
	WatcherOptions Options
}

// DefaultBatchOptions returns the watcher's documented defaults.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		BatchWindowMs:  500,
		MaxBatchWaitMs: 5000,
		GitDebounceMs:  1000,
		WatcherOptions: DefaultOptions(),
	}
}

func (o BatchOptions) withDefaults() BatchOptions {
	d := DefaultBatchOptions()
	if o.BatchWindowMs <= 0 {
		o.BatchWindowMs = d.BatchWindowMs
	}
	if o.MaxBatchWaitMs <= 0 {
		o.MaxBatchWaitMs = d.MaxBatchWaitMs
	}
	if o.GitDebounceMs <= 0 {
		o.GitDebounceMs = d.GitDebounceMs
	}
	o.WatcherOptions = o.WatcherOptions.WithDefaults()
	o.WatcherOptions.DebounceWindow = time.Duration(o.BatchWindowMs) * time.Millisecond
	return o
}

// gitRefPaths are the repo-relative files/prefixes inside .git whose
// changes matter to a caller tracking HEAD/branch/refs movement.
var gitRefPaths = []string{"HEAD", "index", "refs/", "MERGE_HEAD", "rebase-merge/", "rebase-apply/"}

// BatchWatcher adapts HybridWatcher's content-change stream into the
// coalesced Batch contract, with an opt-in overlay that watches the
// repository's .git directory directly (HybridWatcher excludes .git from
// its own recursive walk) and debounces it separately.
type BatchWatcher struct {
	opts     BatchOptions
	inner    *HybridWatcher
	rootPath string

	mu          sync.Mutex
	pending     Batch
	pendingSeen map[string]struct{} // path -> already present in one of the three slices
	firstEvent  time.Time
	timer       *time.Timer
	flushing    bool
	deferFlush  bool
	stopped     bool

	onBatch func(Batch)
	onGit   func()

	gitWatcher *fsnotify.Watcher
	gitTimer   *time.Timer
	gitMu      sync.Mutex
	gitStopCh  chan struct{}

	flushWG  sync.WaitGroup
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewBatchWatcher constructs a BatchWatcher; call Start to begin watching.
func NewBatchWatcher(opts BatchOptions) (*BatchWatcher, error) {
	opts = opts.withDefaults()
	inner, err := NewHybridWatcher(opts.WatcherOptions)
	if err != nil {
		return nil, fmt.Errorf("create hybrid watcher: %w", err)
	}
	return &BatchWatcher{
		opts:        opts,
		inner:       inner,
		pendingSeen: make(map[string]struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching path. onBatch is invoked once per flushed batch;
// onGit is invoked (debounced at GitDebounceMs) whenever a file under
// .git matching HEAD/index/refs/merge-or-rebase state changes. onGit may
// be nil to disable the overlay.
func (w *BatchWatcher) Start(ctx context.Context, path string, onBatch func(Batch), onGit func()) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.rootPath = absPath
	w.onBatch = onBatch
	w.onGit = onGit

	if err := w.inner.Start(ctx, absPath); err != nil {
		return fmt.Errorf("start content watcher: %w", err)
	}
	go w.forward(ctx)

	if onGit != nil {
		if err := w.startGitOverlay(absPath); err != nil {
			// Git overlay is opt-in best-effort; log and continue without it.
			slog.Warn("git overlay watch unavailable", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (w *BatchWatcher) forward(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-w.inner.Events():
			if !ok {
				return
			}
			w.ingest(events)
		}
	}
}

// ingest merges a coalesced slice of FileEvents from the content watcher
// into the pending batch, per spec: each event stamps file -> type,
// overwriting the prior entry for that path within the window. An
// add->delete within the window cancels the path out of the batch
// entirely; any other sequence keeps the latest operation's bucket.
func (w *BatchWatcher) ingest(events []FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.firstEvent.IsZero() {
		w.firstEvent = time.Now()
	}

	for _, ev := range events {
		abs := ev.Path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(w.rootPath, ev.Path)
		}
		w.removeFromPending(abs)
		switch ev.Operation {
		case OpDelete:
			w.pending.Deleted = append(w.pending.Deleted, abs)
		case OpCreate:
			w.pending.Added = append(w.pending.Added, abs)
		default:
			w.pending.Modified = append(w.pending.Modified, abs)
		}
		w.pendingSeen[abs] = struct{}{}
	}

	if w.flushing {
		// A handler is in progress: accumulate without starting a new
		// flush timer. The in-progress handler's completion schedules
		// the next flush if anything arrived meanwhile.
		w.deferFlush = true
		return
	}
	w.scheduleFlush()
}

func (w *BatchWatcher) removeFromPending(path string) {
	if _, ok := w.pendingSeen[path]; !ok {
		return
	}
	w.pending.Added = removeString(w.pending.Added, path)
	w.pending.Modified = removeString(w.pending.Modified, path)
	w.pending.Deleted = removeString(w.pending.Deleted, path)
}

func removeString(s []string, v string) []string {
	for i, e := range s {
		if e == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// scheduleFlush arms a timer that fires after BatchWindowMs, capped so
// the batch never stays open past MaxBatchWaitMs from its first event.
// Must be called with w.mu held.
func (w *BatchWatcher) scheduleFlush() {
	if w.timer != nil {
		w.timer.Stop()
	}
	window := time.Duration(w.opts.BatchWindowMs) * time.Millisecond
	maxWait := time.Duration(w.opts.MaxBatchWaitMs) * time.Millisecond
	elapsed := time.Since(w.firstEvent)
	remaining := maxWait - elapsed
	if remaining < window {
		window = remaining
	}
	if window < 0 {
		window = 0
	}
	w.timer = time.AfterFunc(window, w.flush)
}

// flush emits the pending batch via onBatch and resets batch state. The
// handler is run synchronously so new events arriving during it are
// accumulated (not flushed) per the in-progress gating rule.
func (w *BatchWatcher) flush() {
	w.mu.Lock()
	if w.stopped || w.pending.Empty() {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = Batch{}
	w.pendingSeen = make(map[string]struct{})
	w.firstEvent = time.Time{}
	w.flushing = true
	handler := w.onBatch
	w.flushWG.Add(1)
	w.mu.Unlock()
	defer w.flushWG.Done()

	if handler != nil {
		handler(batch)
	}

	w.mu.Lock()
	w.flushing = false
	deferred := w.deferFlush
	w.deferFlush = false
	if deferred && !w.stopped && !w.pending.Empty() {
		w.firstEvent = time.Now()
		w.scheduleFlush()
	}
	w.mu.Unlock()
}

// Stop prevents new events from being queued, awaits any in-progress
// batch, flushes whatever is pending synchronously, then closes the
// underlying watcher.
func (w *BatchWatcher) Stop() error {
	var stopErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
		pending := w.pending
		handler := w.onBatch
		w.pending = Batch{}
		w.mu.Unlock()

		stopErr = w.inner.Stop() // closes inner.Events(), unblocking forward()
		<-w.doneCh
		w.flushWG.Wait() // let any in-progress batch handler finish first

		if handler != nil && !pending.Empty() {
			handler(pending)
		}
		w.stopGitOverlay()
	})
	return stopErr
}

// startGitOverlay watches HEAD, index, and the refs/packed-refs tree
// directly with their own fsnotify instance, since HybridWatcher's
// recursive walk excludes .git unconditionally. Events are debounced at
// GitDebounceMs and collapsed to a single callback invocation per window.
func (w *BatchWatcher) startGitOverlay(rootPath string) error {
	gitDir := filepath.Join(rootPath, ".git")
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create git overlay watcher: %w", err)
	}
	w.gitWatcher = fsw
	w.gitStopCh = make(chan struct{})

	watchTargets := []string{
		gitDir,
		filepath.Join(gitDir, "refs"),
		filepath.Join(gitDir, "refs", "heads"),
		filepath.Join(gitDir, "refs", "remotes"),
	}
	for _, t := range watchTargets {
		_ = fsw.Add(t) // best-effort: a missing refs subdir is not fatal
	}

	go func() {
		for {
			select {
			case <-w.gitStopCh:
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if w.isGitStateEvent(rootPath, ev.Name) {
					w.scheduleGitCallback()
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func (w *BatchWatcher) isGitStateEvent(rootPath, absPath string) bool {
	rel, err := filepath.Rel(filepath.Join(rootPath, ".git"), absPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, candidate := range gitRefPaths {
		if rel == strings.TrimSuffix(candidate, "/") || strings.HasPrefix(rel, candidate) {
			return true
		}
	}
	return false
}

func (w *BatchWatcher) scheduleGitCallback() {
	w.gitMu.Lock()
	defer w.gitMu.Unlock()
	if w.gitTimer != nil {
		w.gitTimer.Stop()
	}
	w.gitTimer = time.AfterFunc(time.Duration(w.opts.GitDebounceMs)*time.Millisecond, func() {
		if w.onGit != nil {
			w.onGit()
		}
	})
}

func (w *BatchWatcher) stopGitOverlay() {
	if w.gitWatcher == nil {
		return
	}
	close(w.gitStopCh)
	_ = w.gitWatcher.Close()
	w.gitMu.Lock()
	if w.gitTimer != nil {
		w.gitTimer.Stop()
	}
	w.gitMu.Unlock()
}

// DroppedBatches reports how many content batches were dropped by the
// underlying HybridWatcher's output buffer (back-pressure signal).
func (w *BatchWatcher) DroppedBatches() uint64 {
	return w.inner.DroppedBatches()
}
