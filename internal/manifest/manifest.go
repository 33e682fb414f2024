// Package manifest persists the per-project index state: one entry per
// indexed file (mtime, content hash, chunk count) plus the git HEAD/branch
// last seen by the orchestrator. The Indexing Orchestrator (internal/
// orchestrator) and Change Detector (internal/changedetect) are its only
// callers; the Manifest itself knows nothing about chunking or embedding.
//
// Concurrency model follows the teacher's embed/lock.go: an in-process
// sync.Mutex serializes read-modify-write sequences within this process,
// and a gofrs/flock cross-process lock on a sibling ".manifest.lock" file
// keeps two semindex processes (e.g. a CLI run racing a watch daemon) from
// corrupting the same manifest. Saves are atomic: write to a sibling file,
// fsync, then rename over the target (the same idiom as hnsw.go's Save).
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FormatVersion is bumped whenever the on-disk schema changes in a way
// that is not forward-compatible. load() deletes and discards a manifest
// whose FormatVersion does not match, forcing a full reindex.
const FormatVersion = 1

// HashAlgorithm tags the digest scheme used for FileEntry.ContentHash (the
// first 16 hex characters of a SHA-256 digest). Like FormatVersion, a
// mismatch on load means the stored hashes can't be compared against
// freshly computed ones, so the manifest is discarded and a full reindex
// is forced rather than risk silently comparing hashes from two schemes.
const HashAlgorithm = "sha256-16"

// FileEntry records what the orchestrator last saw for one indexed file.
type FileEntry struct {
	Path        string    `json:"path"` // repository-relative
	LastModified time.Time `json:"lastModified"`
	ContentHash string    `json:"contentHash"`
	ChunkCount  int       `json:"chunkCount"`
	ChunkIDs    []string  `json:"chunkIds,omitempty"`
}

// GitState is the HEAD commit and branch last recorded after a successful
// index run. The Change Detector compares the working tree's current state
// against this to decide whether a `git diff` pass is cheaper than a full
// mtime+hash scan.
type GitState struct {
	Commit string `json:"commit"`
	Branch string `json:"branch"`
}

// Manifest is the JSON document persisted under the index root.
type Manifest struct {
	FormatVersion int                  `json:"formatVersion"`
	HashAlgorithm string               `json:"hashAlgorithm"`
	ToolVersion   string               `json:"toolVersion"`
	LastIndexed   time.Time            `json:"lastIndexed"`
	GitState      *GitState            `json:"gitState,omitempty"`
	Files         map[string]FileEntry `json:"files"`
}

func newManifest(toolVersion string) *Manifest {
	return &Manifest{
		FormatVersion: FormatVersion,
		HashAlgorithm: HashAlgorithm,
		ToolVersion:   toolVersion,
		Files:         make(map[string]FileEntry),
	}
}

// Store owns the manifest file for one project root and serializes all
// access to it. A Store is safe for concurrent use by multiple goroutines
// in this process; NewStore additionally takes a cross-process file lock
// so two semindex processes pointed at the same index root don't race.
type Store struct {
	path        string // <indexRoot>/manifest.json
	toolVersion string

	mu       sync.Mutex // serializes read-modify-write within this process
	flock    *flock.Flock
	cur      *Manifest // nil until loaded; load() populates it
	loaded   bool
}

// NewStore creates a Store rooted at <indexRoot>/manifest.json. toolVersion
// is stamped into every save and compared nowhere (it is informational,
// the way the teacher's pidfile records a PID for humans to read, not for
// the program itself to branch on).
func NewStore(indexRoot, toolVersion string) *Store {
	return &Store{
		path:        filepath.Join(indexRoot, "manifest.json"),
		toolVersion: toolVersion,
		flock:       flock.New(filepath.Join(indexRoot, ".manifest.lock")),
	}
}

// Path returns the manifest's on-disk location.
func (s *Store) Path() string { return s.path }

func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create index root: %w", err)
	}
	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("acquire manifest lock: %w", err)
	}
	defer s.flock.Unlock() //nolint:errcheck

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Load reads the manifest from disk, caching it in memory. A missing file,
// a corrupt file, or a FormatVersion mismatch all return (nil, nil): the
// orchestrator treats a nil Manifest as "no prior index, do a full run".
// A FormatVersion mismatch additionally deletes the stale file so the next
// Save starts clean.
func (s *Store) Load() (*Manifest, error) {
	var result *Manifest
	err := s.withLock(func() error {
		data, err := os.ReadFile(s.path)
		if errors.Is(err, os.ErrNotExist) {
			s.cur = nil
			s.loaded = true
			return nil
		}
		if err != nil {
			s.cur = nil
			s.loaded = true
			return nil
		}

		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			// Corrupt manifest: discard and signal a full reindex.
			s.cur = nil
			s.loaded = true
			return nil
		}
		if m.FormatVersion != FormatVersion || m.HashAlgorithm != HashAlgorithm {
			_ = os.Remove(s.path)
			s.cur = nil
			s.loaded = true
			return nil
		}
		if m.Files == nil {
			m.Files = make(map[string]FileEntry)
		}
		s.cur = &m
		s.loaded = true
		result = &m
		return nil
	})
	return result, err
}

// current returns the in-memory manifest, loading it from disk first if
// this is the first access, and creating a fresh one if none exists yet.
// Must be called with s.mu held.
func (s *Store) current() *Manifest {
	if !s.loaded {
		data, err := os.ReadFile(s.path)
		if err == nil {
			var m Manifest
			if json.Unmarshal(data, &m) == nil && m.FormatVersion == FormatVersion && m.HashAlgorithm == HashAlgorithm {
				if m.Files == nil {
					m.Files = make(map[string]FileEntry)
				}
				s.cur = &m
			}
		}
		s.loaded = true
	}
	if s.cur == nil {
		s.cur = newManifest(s.toolVersion)
	}
	return s.cur
}

// Save writes the current in-memory manifest to disk, stamping
// FormatVersion, ToolVersion, and LastIndexed. The write goes to a sibling
// temp file first and is renamed into place, so a crash mid-write never
// leaves a half-written manifest.json behind. Per spec, writes are
// best-effort from the orchestrator's point of view: callers should log a
// Save error rather than abort an otherwise-successful index run.
func (s *Store) Save() error {
	return s.withLock(func() error {
		return s.saveLocked()
	})
}

// saveLocked writes s.cur to disk. Must be called with s.mu held (via
// withLock) and with s.cur already populated by current().
func (s *Store) saveLocked() error {
	m := s.current()
	m.FormatVersion = FormatVersion
	m.HashAlgorithm = HashAlgorithm
	m.ToolVersion = s.toolVersion
	m.LastIndexed = time.Now()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename manifest into place: %w", err)
	}
	return nil
}

// UpdateFile upserts a single file entry and persists the manifest.
func (s *Store) UpdateFile(entry FileEntry) error {
	return s.withLock(func() error {
		m := s.current()
		m.Files[entry.Path] = entry
		return s.saveLocked()
	})
}

// UpdateFiles upserts many file entries in one locked critical section and
// a single save, used by the full-reindex path after a batch scan.
func (s *Store) UpdateFiles(entries []FileEntry) error {
	return s.withLock(func() error {
		m := s.current()
		for _, e := range entries {
			m.Files[e.Path] = e
		}
		return s.saveLocked()
	})
}

// RemoveFile deletes a file's entry and persists the manifest.
func (s *Store) RemoveFile(path string) error {
	return s.withLock(func() error {
		m := s.current()
		delete(m.Files, path)
		return s.saveLocked()
	})
}

// UpdateGitState records the HEAD commit/branch seen at the end of a
// successful index run, used by the Change Detector to decide whether a
// `git diff` pass applies on the next run.
func (s *Store) UpdateGitState(commit, branch string) error {
	return s.withLock(func() error {
		m := s.current()
		m.GitState = &GitState{Commit: commit, Branch: branch}
		return s.saveLocked()
	})
}

// GetIndexedFiles returns every repository-relative path currently
// recorded in the manifest.
func (s *Store) GetIndexedFiles() ([]string, error) {
	var paths []string
	err := s.withLock(func() error {
		m := s.current()
		paths = make([]string, 0, len(m.Files))
		for p := range m.Files {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

// CurrentFile is what the caller observed on disk for one file: its mtime
// and, lazily, its content hash (computed only when mtime alone can't
// decide).
type CurrentFile struct {
	Path         string
	LastModified time.Time
	ContentHash  func() (string, error) // computed lazily; cheap mtime check comes first
}

// ChangeResult is the two-stage mtime+hash outcome for one reconciliation
// pass: files the manifest has never seen, files whose content actually
// changed, and files recorded in the manifest but absent from currentFiles.
type ChangeResult struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// GetChangedFiles implements the spec's two-stage check: if LastModified
// matches the stored value, skip; otherwise compare ContentHash — a match
// means the file was touched but not changed, so LastModified is updated
// in place without marking it Modified; a mismatch marks it Modified. Any
// file in currentFiles absent from the manifest is Added. Any manifest
// entry absent from currentFiles is Deleted. If any LastModified was
// silently refreshed, the manifest is re-saved once at the end.
func (s *Store) GetChangedFiles(currentFiles []CurrentFile) (ChangeResult, error) {
	var result ChangeResult
	err := s.withLock(func() error {
		m := s.current()
		seen := make(map[string]bool, len(currentFiles))
		dirty := false

		for _, cf := range currentFiles {
			seen[cf.Path] = true
			entry, ok := m.Files[cf.Path]
			if !ok {
				result.Added = append(result.Added, cf.Path)
				continue
			}
			if entry.LastModified.Equal(cf.LastModified) {
				continue
			}
			hash := ""
			if cf.ContentHash != nil {
				h, err := cf.ContentHash()
				if err != nil {
					result.Modified = append(result.Modified, cf.Path)
					continue
				}
				hash = h
			}
			if hash != "" && hash == entry.ContentHash {
				entry.LastModified = cf.LastModified
				m.Files[cf.Path] = entry
				dirty = true
				continue
			}
			result.Modified = append(result.Modified, cf.Path)
		}

		for path := range m.Files {
			if !seen[path] {
				result.Deleted = append(result.Deleted, path)
			}
		}

		if dirty {
			return s.saveLocked()
		}
		return nil
	})
	return result, err
}

// GetDeletedFiles returns manifest entries whose path is absent from
// currentPaths, without touching LastModified/ContentHash bookkeeping the
// way GetChangedFiles does. Used by callers that already know their full
// current file list and just need the deletion set.
func (s *Store) GetDeletedFiles(currentPaths []string) ([]string, error) {
	var deleted []string
	err := s.withLock(func() error {
		m := s.current()
		seen := make(map[string]bool, len(currentPaths))
		for _, p := range currentPaths {
			seen[p] = true
		}
		for path := range m.Files {
			if !seen[path] {
				deleted = append(deleted, path)
			}
		}
		return nil
	})
	return deleted, err
}

// Clear discards every file entry and git state, used before a full
// reindex. The manifest document itself (and its FormatVersion/ToolVersion
// stamp) is kept, only its contents are reset.
func (s *Store) Clear() error {
	return s.withLock(func() error {
		m := s.current()
		m.Files = make(map[string]FileEntry)
		m.GitState = nil
		return s.saveLocked()
	})
}
