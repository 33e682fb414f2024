// Package orchestrator drives one index run end to end: detect changes,
// chunk and embed the files that need it, write the result into the
// Vector Store, and keep the Manifest and Version File in sync.
//
// The run-loop shape (scan -> process -> bump version, reporting progress
// events as it goes) is grounded on internal/index/runner.go's Runner.Run;
// the progress event vocabulary mirrors internal/async/status.go's
// IndexProgress/IndexProgressSnapshot. Concurrency is bounded with
// golang.org/x/sync/errgroup the way pkg/searcher/fusion.go's
// FusionSearcher.Search fans out its BM25 and vector legs with
// errgroup.WithContext, generalized here from two fixed goroutines to an
// errgroup.SetLimit-bounded pool sized by Config.Concurrency.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/semindex/semindex/internal/changedetect"
	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/manifest"
	"github.com/semindex/semindex/internal/scanner"
	"github.com/semindex/semindex/internal/store"
	"github.com/semindex/semindex/internal/versionfile"
)

// DefaultConcurrency is DEFAULT_CONCURRENCY from spec.md §4.J: the bounded
// worker pool size for per-file chunk/embed work.
const DefaultConcurrency = 4

// DefaultEmbeddingBatchSize is DEFAULT_EMBEDDING_BATCH_SIZE: how many
// chunk contents are sent to the embedder in one EmbedBatch call.
const DefaultEmbeddingBatchSize = 50

// DefaultInsertBatchSize is the ChunkBatchProcessor's flush threshold: how
// many pending chunks accumulate before a batch is embedded and inserted.
const DefaultInsertBatchSize = 100

// Phase identifies a stage of progress during a run.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseScanning     Phase = "scanning"
	PhaseEmbedding    Phase = "embedding"
	PhaseIndexing     Phase = "indexing"
	PhaseSaving       Phase = "saving"
	PhaseComplete     Phase = "complete"
)

// ProgressEvent is emitted on the caller-supplied channel as a run
// advances, mirroring internal/async/status.go's snapshot fields.
type ProgressEvent struct {
	Phase           Phase
	Message         string
	FilesTotal      int
	FilesProcessed  int
	ChunksProcessed int
}

// Config configures one Orchestrator run.
type Config struct {
	Concurrency        int  // bounded worker pool size; <=0 defaults to DefaultConcurrency
	EmbeddingBatchSize int  // <=0 defaults to DefaultEmbeddingBatchSize
	InsertBatchSize    int  // <=0 defaults to DefaultInsertBatchSize
	Force              bool // force a full reindex regardless of manifest/version state
}

// Result summarizes a completed run.
type Result struct {
	FilesAdded     int
	FilesModified  int
	FilesDeleted   int
	ChunksIndexed  int
	FilesFailed    int
	Reason         changedetect.Reason
	Version        int64
}

// Orchestrator wires together the Manifest, Version File, Change Detector,
// Chunker, Embedder, Persistent Embedding Cache, and Code Store for one
// project root.
type Orchestrator struct {
	rootPath  string
	indexRoot string
	manifest  *manifest.Store
	version   *versionfile.File
	detector  *changedetect.Detector
	scanner   *scanner.Scanner
	scanOpts  scanner.ScanOptions
	chunker   chunk.Chunker
	embedder  embed.Embedder
	cache     *embed.PersistentCache
	codeStore store.CodeStore
	cfg       Config
}

// New constructs an Orchestrator. toolVersion is stamped into the
// manifest on every save (see internal/manifest). cache may be nil, in
// which case every chunk is re-embedded on every run.
func New(rootPath string, sc *scanner.Scanner, chunker chunk.Chunker, embedder embed.Embedder, cache *embed.PersistentCache, codeStore store.CodeStore, indexRoot, toolVersion string, cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = DefaultEmbeddingBatchSize
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = DefaultInsertBatchSize
	}

	manifestStore := manifest.NewStore(indexRoot, toolVersion)
	scanOpts := scanner.BuildScanOptions(rootPath, indexRoot, scanner.ScanOptions{RespectGitignore: true})
	return &Orchestrator{
		rootPath:  rootPath,
		indexRoot: indexRoot,
		manifest:  manifestStore,
		version:   versionfile.New(indexRoot),
		detector:  changedetect.New(rootPath, sc, manifestStore, indexRoot),
		scanner:   sc,
		scanOpts:  scanOpts,
		chunker:   chunker,
		embedder:  embedder,
		cache:     cache,
		codeStore: codeStore,
		cfg:       cfg,
	}
}

func emit(progress chan<- ProgressEvent, ev ProgressEvent) {
	if progress == nil {
		return
	}
	select {
	case progress <- ev:
	default:
		// A slow/absent consumer must never block indexing.
	}
}

// Run executes one index pass: initialize, detect changes, apply
// deletions before updates, bump the Version File. It chooses the
// incremental path unless cfg.Force is set, no manifest exists yet, or
// the manifest's FormatVersion no longer matches (both surfaced by
// changedetect.Detect returning ReasonFull).
func (o *Orchestrator) Run(ctx context.Context, progress chan<- ProgressEvent) (*Result, error) {
	emit(progress, ProgressEvent{Phase: PhaseInitializing, Message: "loading manifest"})

	if _, err := o.manifest.Load(); err != nil {
		return nil, fmt.Errorf("initialize manifest: %w", err)
	}
	if err := o.codeStore.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize code store: %w", err)
	}

	emit(progress, ProgressEvent{Phase: PhaseScanning, Message: "detecting changes"})
	change, err := o.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect changes: %w", err)
	}

	full := o.cfg.Force || change.Reason == changedetect.ReasonFull
	if full {
		return o.runFull(ctx, progress)
	}
	return o.runIncremental(ctx, progress, change)
}

// runIncremental implements the Incremental path from spec.md §4.J.
func (o *Orchestrator) runIncremental(ctx context.Context, progress chan<- ProgressEvent, change changedetect.Result) (*Result, error) {
	result := &Result{Reason: change.Reason}

	if len(change.Added) == 0 && len(change.Modified) == 0 && len(change.Deleted) == 0 {
		emit(progress, ProgressEvent{Phase: PhaseComplete, Message: "no changes"})
		v, err := o.version.Current()
		if err != nil {
			return nil, err
		}
		result.Version = v
		return result, nil
	}

	result.FilesDeleted = o.applyDeletions(ctx, change.Deleted)

	toProcess := append(append([]string{}, change.Added...), change.Modified...)
	if len(toProcess) == 0 {
		if err := o.updateGitStateAndBumpVersion(result); err != nil {
			return nil, err
		}
		emit(progress, ProgressEvent{Phase: PhaseComplete, Message: "deletions applied"})
		return result, nil
	}

	processed, chunksIndexed, failed, err := o.processFiles(ctx, progress, toProcess)
	if err != nil {
		return nil, err
	}
	result.FilesAdded = processed.added
	result.FilesModified = processed.modified
	result.ChunksIndexed = chunksIndexed
	result.FilesFailed = failed

	if err := o.updateGitStateAndBumpVersion(result); err != nil {
		return nil, err
	}

	emit(progress, ProgressEvent{Phase: PhaseComplete, Message: "incremental index complete", ChunksProcessed: chunksIndexed})
	return result, nil
}

// runFull implements the Full path from spec.md §4.J.
func (o *Orchestrator) runFull(ctx context.Context, progress chan<- ProgressEvent) (*Result, error) {
	emit(progress, ProgressEvent{Phase: PhaseInitializing, Message: "clearing store for full reindex"})
	if err := o.manifest.Clear(); err != nil {
		return nil, fmt.Errorf("clear manifest: %w", err)
	}

	emit(progress, ProgressEvent{Phase: PhaseScanning, Message: "scanning project"})
	opts := o.scanOpts
	results, err := o.scanner.Scan(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	var paths []string
	for r := range results {
		if r.Error != nil || r.File == nil {
			continue
		}
		ct := scanner.DetectContentType(r.File.Language)
		if ct == scanner.ContentTypeCode || ct == scanner.ContentTypeMarkdown {
			paths = append(paths, r.File.Path)
		}
	}

	result := &Result{Reason: changedetect.ReasonFull}
	processed, chunksIndexed, failed, err := o.processFiles(ctx, progress, paths)
	if err != nil {
		return nil, err
	}
	result.FilesAdded = processed.added + processed.modified
	result.ChunksIndexed = chunksIndexed
	result.FilesFailed = failed

	if err := o.updateGitStateAndBumpVersion(result); err != nil {
		return nil, err
	}

	emit(progress, ProgressEvent{Phase: PhaseComplete, Message: "full index complete", ChunksProcessed: chunksIndexed})
	return result, nil
}

type processedCounts struct {
	added    int
	modified int
}

// processFiles fans per-file chunk+embed work out across a bounded
// worker pool (errgroup.SetLimit), batching chunks into the embedder and
// vector store through a ChunkBatchProcessor, and records each completed
// file into the manifest.
func (o *Orchestrator) processFiles(ctx context.Context, progress chan<- ProgressEvent, paths []string) (processedCounts, int, int, error) {
	emit(progress, ProgressEvent{Phase: PhaseEmbedding, Message: "embedding changed files", FilesTotal: len(paths)})

	batcher := newChunkBatchProcessor(o.embedder, o.codeStore, o.cache, o.cfg.EmbeddingBatchSize, o.cfg.InsertBatchSize)

	var (
		mu             sync.Mutex
		counts         processedCounts
		filesProcessed int
		failed         int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	existed, err := o.manifest.GetIndexedFiles()
	if err != nil {
		return counts, 0, 0, fmt.Errorf("read indexed files: %w", err)
	}
	existedSet := make(map[string]bool, len(existed))
	for _, p := range existed {
		existedSet[p] = true
	}

	for _, p := range paths {
		path := p
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			entry, recErr := o.processOneFile(gctx, batcher, path)

			mu.Lock()
			defer mu.Unlock()
			filesProcessed++
			if recErr != nil {
				failed++
				emit(progress, ProgressEvent{Phase: PhaseEmbedding, Message: fmt.Sprintf("failed to index %s: %v", path, recErr), FilesProcessed: filesProcessed, FilesTotal: len(paths)})
				return nil // per-file failures are logged and counted, not fatal
			}
			if existedSet[path] {
				counts.modified++
			} else {
				counts.added++
			}
			if err := o.manifest.UpdateFile(entry); err != nil {
				// Manifest writes are best-effort per spec.md §4.G.
				emit(progress, ProgressEvent{Phase: PhaseSaving, Message: fmt.Sprintf("manifest save failed for %s: %v", path, err)})
			}
			emit(progress, ProgressEvent{Phase: PhaseEmbedding, FilesProcessed: filesProcessed, FilesTotal: len(paths)})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return counts, 0, 0, fmt.Errorf("process files: %w", err)
	}

	emit(progress, ProgressEvent{Phase: PhaseIndexing, Message: "flushing remaining chunk batch"})
	if err := batcher.Flush(ctx); err != nil {
		return counts, 0, 0, fmt.Errorf("flush final chunk batch: %w", err)
	}

	return counts, batcher.totalIndexed(), failed, nil
}

// processOneFile chunks one file, computes its content hash, enqueues its
// chunks into the shared batch processor (which looks each chunk up in
// the persistent embedding cache and sends only the misses to the
// embedder), and returns the manifest entry to record for it.
func (o *Orchestrator) processOneFile(ctx context.Context, batcher *chunkBatchProcessor, relPath string) (manifest.FileEntry, error) {
	absPath := filepath.Join(o.rootPath, relPath)
	content, mtime, err := readFileWithMtime(absPath)
	if err != nil {
		return manifest.FileEntry{}, err
	}

	chunks, err := o.chunker.Chunk(ctx, &chunk.FileInput{
		Path:     relPath,
		Content:  content,
		Language: scanner.DetectLanguage(relPath),
		UseAST:   true,
	})
	if err != nil {
		return manifest.FileEntry{}, fmt.Errorf("chunk %s: %w", relPath, err)
	}

	contentHash := hashBytes(content)

	chunkIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		chunkIDs = append(chunkIDs, c.ID)
		if err := batcher.Add(ctx, c); err != nil {
			return manifest.FileEntry{}, fmt.Errorf("enqueue chunk %s: %w", c.ID, err)
		}
	}

	return manifest.FileEntry{
		Path:         relPath,
		LastModified: mtime,
		ContentHash:  contentHash,
		ChunkCount:   len(chunks),
		ChunkIDs:     chunkIDs,
	}, nil
}

// applyDeletions removes a deleted file's chunks from the vector store
// and its entry from the manifest, per spec.md §4.J step 3 (deletions
// first).
func (o *Orchestrator) applyDeletions(ctx context.Context, deleted []string) int {
	if len(deleted) == 0 {
		return 0
	}
	m, err := o.manifest.Load()
	if err != nil || m == nil {
		return 0
	}

	count := 0
	for _, path := range deleted {
		if _, ok := m.Files[path]; ok {
			_ = o.codeStore.DeleteByFile(ctx, path)
		}
		if err := o.manifest.RemoveFile(path); err == nil {
			count++
		}
	}
	return count
}

// updateGitStateAndBumpVersion records the working tree's current git
// state (if any) and bumps the Version File, the last step of both the
// incremental and full paths.
func (o *Orchestrator) updateGitStateAndBumpVersion(result *Result) error {
	if commit, branch, ok := changedetect.CommitAndBranch(o.rootPath); ok {
		if err := o.manifest.UpdateGitState(commit, branch); err != nil {
			return fmt.Errorf("update git state: %w", err)
		}
	}
	v, err := o.version.Bump()
	if err != nil {
		return fmt.Errorf("bump version file: %w", err)
	}
	result.Version = v
	return nil
}
