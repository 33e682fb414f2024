package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/changedetect"
	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/scanner"
	"github.com/semindex/semindex/internal/store"
)

// mockEmbedder is a test double that counts calls, mirroring
// internal/embed/cached_test.go's mockEmbedder.
type mockEmbedder struct {
	mu         sync.Mutex
	batchCalls int
	dimensions int
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dimensions: dims}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batchCalls++
	m.mu.Unlock()

	result := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, m.dimensions)
		for j := range vec {
			vec[j] = float32(len(texts[i])) * 0.01
		}
		result[i] = vec
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int                { return m.dimensions }
func (m *mockEmbedder) ModelName() string              { return "mock-model" }
func (m *mockEmbedder) Available(context.Context) bool { return true }
func (m *mockEmbedder) Close() error                   { return nil }

func (m *mockEmbedder) batchCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// memCodeStore is an in-memory store.CodeStore fake for testing the
// orchestrator without pulling in the real HNSW/Qdrant-backed
// EmbeddedCodeStore/RemoteCodeStore.
type memCodeStore struct {
	mu   sync.Mutex
	rows map[string]*chunk.Chunk
}

func newMemCodeStore() *memCodeStore {
	return &memCodeStore{rows: make(map[string]*chunk.Chunk)}
}

func (s *memCodeStore) Initialize(ctx context.Context) error { return nil }

func (s *memCodeStore) InsertBatch(ctx context.Context, chunks []*chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return store.ErrBatchLengthMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.rows[c.ID] = c
	}
	return nil
}

func (s *memCodeStore) Search(ctx context.Context, queryVector []float32, limit int) ([]store.SearchHit, error) {
	return nil, nil
}

func (s *memCodeStore) ScanWithFilter(ctx context.Context, filter store.ScanFilter) ([]*chunk.Chunk, error) {
	return nil, nil
}

func (s *memCodeStore) ScanAll(ctx context.Context, filter store.ScanFilter) ([]*chunk.Chunk, error) {
	return nil, nil
}

func (s *memCodeStore) QuerySymbols(ctx context.Context, filter store.SymbolFilter) ([]*chunk.Chunk, error) {
	return nil, nil
}

func (s *memCodeStore) DeleteByFile(ctx context.Context, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range s.rows {
		if row.File == file {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *memCodeStore) UpdateFile(ctx context.Context, file string, chunks []*chunk.Chunk, vectors [][]float32) error {
	if err := s.DeleteByFile(ctx, file); err != nil {
		return err
	}
	return s.InsertBatch(ctx, chunks, vectors)
}

func (s *memCodeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]*chunk.Chunk)
	return nil
}

func (s *memCodeStore) HasData(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows) > 0, nil
}

func (s *memCodeStore) CheckVersion(ctx context.Context) (bool, error) { return false, nil }
func (s *memCodeStore) Reconnect(ctx context.Context) error            { return nil }
func (s *memCodeStore) Close() error                                   { return nil }

func (s *memCodeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

var _ store.CodeStore = (*memCodeStore)(nil)

func newTestOrchestrator(t *testing.T, rootPath string) (*Orchestrator, *memCodeStore, *mockEmbedder) {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)

	chunker := chunk.NewCodeChunker()
	embedder := newMockEmbedder(8)
	codeStore := newMemCodeStore()

	indexRoot := filepath.Join(rootPath, ".semindex")
	o := New(rootPath, sc, chunker, embedder, nil, codeStore, indexRoot, "test", Config{})
	return o, codeStore, embedder
}

func TestOrchestrator_Run_FullIndexesAllFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc F() int { return 1 }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a\n\nfunc G() int { return 2 }\n"), 0o644))

	o, codeStore, embedder := newTestOrchestrator(t, dir)

	events := make(chan ProgressEvent, 64)
	result, err := o.Run(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesAdded)
	assert.Equal(t, 0, result.FilesFailed)
	assert.Greater(t, result.ChunksIndexed, 0)
	assert.Greater(t, codeStore.count(), 0)
	assert.Greater(t, embedder.batchCallCount(), 0)
	assert.Greater(t, result.Version, int64(0))
}

func TestOrchestrator_Run_SecondRunIsIncrementalNoOp(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc F() int { return 1 }\n"), 0o644))

	o, _, embedder := newTestOrchestrator(t, dir)

	_, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	firstCalls := embedder.batchCallCount()

	result, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesAdded)
	assert.Equal(t, 0, result.FilesModified)
	assert.Equal(t, 0, result.FilesDeleted)
	assert.Equal(t, firstCalls, embedder.batchCallCount(), "unchanged project should not re-embed")
}

func TestOrchestrator_Run_DetectsModifiedFile(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(aPath, []byte("package a\n\nfunc F() int { return 1 }\n"), 0o644))

	o, _, _ := newTestOrchestrator(t, dir)
	_, err := o.Run(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(aPath, []byte("package a\n\nfunc F() int { return 2 }\n"), 0o644))

	result, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesModified)
}

func TestOrchestrator_Run_DetectsDeletedFile(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(aPath, []byte("package a\n\nfunc F() int { return 1 }\n"), 0o644))

	o, codeStore, _ := newTestOrchestrator(t, dir)
	_, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Greater(t, codeStore.count(), 0)

	require.NoError(t, os.Remove(aPath))

	result, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, 0, codeStore.count(), "deleted file's chunks should be removed from the code store")
}

func TestOrchestrator_Run_ForceReindexesEvenWithoutChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc F() int { return 1 }\n"), 0o644))

	sc, err := scanner.New()
	require.NoError(t, err)
	chunker := chunk.NewCodeChunker()
	embedder := newMockEmbedder(8)
	codeStore := newMemCodeStore()
	indexRoot := filepath.Join(dir, ".semindex")

	o := New(dir, sc, chunker, embedder, nil, codeStore, indexRoot, "test", Config{})
	_, err = o.Run(context.Background(), nil)
	require.NoError(t, err)

	oForced := New(dir, sc, chunker, embedder, nil, codeStore, indexRoot, "test", Config{Force: true})
	result, err := oForced.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, changedetect.ReasonFull, result.Reason)
}
