// Package watcher provides real-time file system watching with automatic
// debouncing and gitignore-aware filtering.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// HybridWatcher is the low-level event source: it emits debounced
// []FileEvent slices filtered against .gitignore. BatchWatcher sits on
// top of it and reshapes that stream into the Added/Modified/Deleted
// Batch contract, adding a MaxBatchWaitMs cap, in-progress-handler
// accumulation, and an opt-in debounced overlay that watches the
// repository's .git directory directly (HybridWatcher excludes .git from
// its own recursive walk on purpose).
//
// Usage:
//
//	w, err := watcher.NewBatchWatcher(watcher.DefaultBatchOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	err = w.Start(ctx, "/path/to/project", func(b watcher.Batch) {
//	    // index b.Added, b.Modified, b.Deleted
//	}, func() {
//	    // git HEAD/refs moved; reconcile against the new commit
//	})
package watcher
