// Package versionfile implements the Version File: a single monotonic
// integer written to the index root after every successful index commit.
// Readers (the MCP-style query surface, a status command, a live-updating
// TUI) poll it on a ~1 Hz cadence to detect "the index changed under me"
// without re-reading the whole manifest.
//
// The embedded and remote Vector Store backends each keep their own
// Version File rather than sharing one: a remote multi-tenant deployment
// has no single meaningful "index root" to anchor a shared file on, and
// collapsing them would let one tenant's writes bump another's version.
package versionfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileName is the version file's name within the index root.
const FileName = "VERSION"

// File guards reads and writes of one index root's Version File.
type File struct {
	path string
	mu   sync.Mutex

	cached     int64
	cachedAt   time.Time
	pollEvery  time.Duration
}

// New returns a File rooted at <indexRoot>/VERSION. Readers that call
// Current repeatedly (e.g. a live-updating watch loop) are rate-limited to
// one disk read per PollInterval; writers always read fresh via Bump.
func New(indexRoot string) *File {
	return &File{
		path:      filepath.Join(indexRoot, FileName),
		pollEvery: time.Second, // ~1 Hz, per spec
	}
}

// Current returns the last-known version, re-reading from disk if more
// than PollInterval has elapsed since the last read (or on first call).
// A missing file reads as version 0, not an error: a project that has
// never been indexed has version 0 by definition.
func (f *File) Current() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.cachedAt.IsZero() && time.Since(f.cachedAt) < f.pollEvery {
		return f.cached, nil
	}
	return f.readLocked()
}

// Read forces a fresh read from disk, bypassing the poll-interval cache.
func (f *File) Read() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *File) readLocked() (int64, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.cached = 0
		f.cachedAt = time.Now()
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version file: %w", err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version file %s: %w", f.path, err)
	}
	f.cached = v
	f.cachedAt = time.Now()
	return v, nil
}

// Bump writes a new version derived from time.Now().UnixNano(), guarding
// against a non-monotonic clock read (NTP step, VM migration, clock skew
// across a network filesystem) by never writing a value less than or
// equal to the one already on disk: if the clock ever goes backwards, the
// stored version is incremented by one instead. The write is atomic
// (sibling file + rename), mirroring the HNSW store's Save().
func (f *File) Bump() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.readLocked()
	if err != nil {
		return 0, err
	}

	next := time.Now().UnixNano()
	if next <= current {
		next = current + 1
	}

	if err := f.writeLocked(next); err != nil {
		return 0, err
	}
	f.cached = next
	f.cachedAt = time.Now()
	return next, nil
}

func (f *File) writeLocked(v int64) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create index root: %w", err)
	}

	tmpPath := f.path + ".tmp"
	fh, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp version file: %w", err)
	}
	if _, err := fh.WriteString(strconv.FormatInt(v, 10)); err != nil {
		fh.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp version file: %w", err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp version file: %w", err)
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp version file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename version file into place: %w", err)
	}
	return nil
}

// Path returns the Version File's on-disk location.
func (f *File) Path() string { return f.path }
