package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/versionfile"
)

// EmbeddedCodeStore is the CodeStore backend for a single local project.
// It composes the existing HNSWStore (the pure-Go ANN graph, unchanged
// from the teacher) with a row table carrying chunk content and
// metadata, gob-persisted under the same index directory. The embedded
// backend has exactly one tenant for its whole lifetime, synthesized
// once from the project root path (SynthesizeTenant), so none of its
// methods take a tenant argument.
type EmbeddedCodeStore struct {
	mu   sync.RWMutex
	ann  *HNSWStore
	rows map[string]*chunk.Chunk // chunk ID -> row metadata

	dir         string // index root directory
	rowsPath    string // <dir>/rows.gob
	annPath     string // <dir>/vectors.hnsw
	version     *versionfile.File
	cachedVer   int64
	initialized bool
}

// NewEmbeddedCodeStore constructs a store rooted at indexDir. Call
// Initialize before use to load any existing on-disk state.
func NewEmbeddedCodeStore(indexDir string, dims int) (*EmbeddedCodeStore, error) {
	ann, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, fmt.Errorf("create embedded ann index: %w", err)
	}
	return &EmbeddedCodeStore{
		ann:      ann,
		rows:     make(map[string]*chunk.Chunk),
		dir:      indexDir,
		rowsPath: filepath.Join(indexDir, "rows.gob"),
		annPath:  filepath.Join(indexDir, "vectors.hnsw"),
		version:  versionfile.New(indexDir),
	}, nil
}

func (s *EmbeddedCodeStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index root: %w", err)
	}

	if _, err := os.Stat(s.annPath); err == nil {
		if err := s.ann.Load(s.annPath); err != nil {
			return fmt.Errorf("load ann index: %w", err)
		}
	}
	if err := s.loadRowsLocked(); err != nil {
		return fmt.Errorf("load rows: %w", err)
	}

	v, err := s.version.Current()
	if err != nil {
		return fmt.Errorf("read version file: %w", err)
	}
	s.cachedVer = v
	s.initialized = true
	return nil
}

func (s *EmbeddedCodeStore) loadRowsLocked() error {
	f, err := os.Open(s.rowsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var rows map[string]*chunk.Chunk
	if err := gob.NewDecoder(f).Decode(&rows); err != nil {
		// A corrupt rows file is recoverable: the ANN graph can be
		// rebuilt by a full reindex, same as a manifest format mismatch.
		return nil
	}
	s.rows = rows
	return nil
}

func (s *EmbeddedCodeStore) persistLocked() error {
	if err := s.ann.Save(s.annPath); err != nil {
		return fmt.Errorf("save ann index: %w", err)
	}

	tmp := s.rowsPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create rows temp file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(s.rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync rows temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close rows temp file: %w", err)
	}
	return os.Rename(tmp, s.rowsPath)
}

func (s *EmbeddedCodeStore) InsertBatch(ctx context.Context, chunks []*chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrBatchLengthMismatch
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := s.ann.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("insert batch into ann index: %w", err)
	}
	for _, c := range chunks {
		s.rows[c.ID] = c
	}
	return s.persistLocked()
}

func (s *EmbeddedCodeStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	results, err := s.ann.Search(ctx, queryVector, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		row, ok := s.rows[r.ID]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{
			Content:   row.Content,
			Metadata:  *row,
			Score:     r.Score,
			Relevance: RelevanceForScore(r.Score),
		})
	}
	return hits, nil
}

func (s *EmbeddedCodeStore) ScanWithFilter(ctx context.Context, filter ScanFilter) ([]*chunk.Chunk, error) {
	return s.scan(filter, matchesScanFilter)
}

func (s *EmbeddedCodeStore) ScanAll(ctx context.Context, filter ScanFilter) ([]*chunk.Chunk, error) {
	return s.scan(filter, matchesScanFilter)
}

func (s *EmbeddedCodeStore) QuerySymbols(ctx context.Context, filter SymbolFilter) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	var out []*chunk.Chunk
	for _, row := range s.sortedRowsLocked() {
		if matchesSymbolFilter(row, filter) {
			out = append(out, row)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, nil
}

func (s *EmbeddedCodeStore) scan(filter ScanFilter, match func(*chunk.Chunk, ScanFilter) bool) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	var out []*chunk.Chunk
	for _, row := range s.sortedRowsLocked() {
		if match(row, filter) {
			out = append(out, row)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, nil
}

// sortedRowsLocked returns rows in a stable (file, startLine) order so
// scan results are deterministic across runs for the same store state.
func (s *EmbeddedCodeStore) sortedRowsLocked() []*chunk.Chunk {
	out := make([]*chunk.Chunk, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].StartLine < out[j].StartLine
	})
	return out
}

func (s *EmbeddedCodeStore) DeleteByFile(ctx context.Context, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.deleteByFileLocked(ctx, file)
}

func (s *EmbeddedCodeStore) deleteByFileLocked(ctx context.Context, file string) error {
	var ids []string
	for id, row := range s.rows {
		if row.File == file {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ann.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete ann rows for %s: %w", file, err)
	}
	for _, id := range ids {
		delete(s.rows, id)
	}
	return s.persistLocked()
}

// UpdateFile is DeleteByFile followed by InsertBatch under one lock
// acquisition, so a reader of Search/ScanWithFilter never observes a
// state with neither the old nor the new rows for file.
func (s *EmbeddedCodeStore) UpdateFile(ctx context.Context, file string, chunks []*chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrBatchLengthMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	if err := s.deleteByFileLocked(ctx, file); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := s.ann.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("insert updated rows for %s: %w", file, err)
	}
	for _, c := range chunks {
		s.rows[c.ID] = c
	}
	return s.persistLocked()
}

func (s *EmbeddedCodeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		if err := s.ann.Delete(ctx, ids); err != nil {
			return fmt.Errorf("clear ann index: %w", err)
		}
	}
	s.rows = make(map[string]*chunk.Chunk)
	return s.persistLocked()
}

func (s *EmbeddedCodeStore) HasData(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return false, ErrNotInitialized
	}
	return len(s.rows) > 0, nil
}

// CheckVersion is rate-limited to ~1 real disk read/second by
// versionfile.File.Current's own poll-interval cache.
func (s *EmbeddedCodeStore) CheckVersion(ctx context.Context) (bool, error) {
	v, err := s.version.Current()
	if err != nil {
		return false, fmt.Errorf("check version file: %w", err)
	}
	s.mu.RLock()
	stale := v > s.cachedVer
	s.mu.RUnlock()
	return stale, nil
}

func (s *EmbeddedCodeStore) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ann.Close(); err == nil {
		// Close releases the in-memory graph; rebuild before loading.
	}
	ann, err := NewHNSWStore(s.ann.config)
	if err != nil {
		return fmt.Errorf("recreate ann index: %w", err)
	}
	s.ann = ann
	if _, statErr := os.Stat(s.annPath); statErr == nil {
		if err := s.ann.Load(s.annPath); err != nil {
			return fmt.Errorf("reload ann index: %w", err)
		}
	}
	if err := s.loadRowsLocked(); err != nil {
		return fmt.Errorf("reload rows: %w", err)
	}
	v, err := s.version.Read()
	if err != nil {
		return fmt.Errorf("reread version file: %w", err)
	}
	s.cachedVer = v
	return nil
}

func (s *EmbeddedCodeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false
	return s.ann.Close()
}

var _ CodeStore = (*EmbeddedCodeStore)(nil)
