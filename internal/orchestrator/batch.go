package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/store"
)

// chunkBatchProcessor accumulates chunks across files and flushes them to
// the embedder and code store once a threshold is reached, per spec.md
// §4.J's ChunkBatchProcessor. Before calling the embedder, every pending
// chunk's content hash is checked against the Persistent Embedding Cache
// (internal/embed.PersistentCache); only cache misses pay for a model
// call, and every miss's result is written back to the cache once
// embedded, satisfying the "cache lookups avoid network/model calls" rule
// from spec.md §4.E without needing a separate per-ID existence check
// against the store itself.
type chunkBatchProcessor struct {
	embedder  embed.Embedder
	codeStore store.CodeStore
	cache     *embed.PersistentCache
	embedSize int
	threshold int

	mu      sync.Mutex
	pending []*chunk.Chunk
	indexed int
}

func newChunkBatchProcessor(embedder embed.Embedder, codeStore store.CodeStore, cache *embed.PersistentCache, embedSize, threshold int) *chunkBatchProcessor {
	return &chunkBatchProcessor{
		embedder:  embedder,
		codeStore: codeStore,
		cache:     cache,
		embedSize: embedSize,
		threshold: threshold,
	}
}

// Add enqueues a chunk, flushing the batch if the threshold is reached.
func (p *chunkBatchProcessor) Add(ctx context.Context, c *chunk.Chunk) error {
	p.mu.Lock()
	p.pending = append(p.pending, c)
	shouldFlush := len(p.pending) >= p.threshold
	p.mu.Unlock()

	if shouldFlush {
		return p.Flush(ctx)
	}
	return nil
}

// Flush embeds (modulo cache hits) and inserts every pending chunk, in
// sub-batches of embedSize per embedder call (DEFAULT_EMBEDDING_BATCH_SIZE).
// Safe to call concurrently with Add; a concurrent Add arriving mid-flush
// is simply included in the next flush.
func (p *chunkBatchProcessor) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	modelName := p.embedder.ModelName()

	for start := 0; start < len(batch); start += p.embedSize {
		end := start + p.embedSize
		if end > len(batch) {
			end = len(batch)
		}
		sub := batch[start:end]

		vectors := make([][]float32, len(sub))
		hashes := make([]string, len(sub))
		var missIdx []int
		var missTexts []string

		for i, c := range sub {
			_, hash := embed.Key(modelName, c.Content)
			hashes[i] = hash
			if p.cache != nil {
				if vec, ok, err := p.cache.Get(ctx, modelName, hash); err == nil && ok {
					vectors[i] = vec
					continue
				}
			}
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, c.Content)
		}

		if len(missTexts) > 0 {
			embedded, err := p.embedder.EmbedBatch(ctx, missTexts)
			if err != nil {
				return fmt.Errorf("embed batch of %d chunks: %w", len(missTexts), err)
			}
			for j, idx := range missIdx {
				vectors[idx] = embedded[j]
				if p.cache != nil {
					if err := p.cache.Put(ctx, modelName, hashes[idx], embedded[j]); err != nil {
						// A failed cache write never blocks indexing; the
						// chunk is simply re-embedded next time.
					}
				}
			}
		}

		if err := p.codeStore.InsertBatch(ctx, sub, vectors); err != nil {
			return fmt.Errorf("insert batch of %d chunks: %w", len(sub), err)
		}

		p.mu.Lock()
		p.indexed += len(sub)
		p.mu.Unlock()
	}

	if p.cache != nil {
		if err := p.cache.Flush(ctx); err != nil {
			// Eviction failures are non-fatal: the cache just grows
			// until the next successful Flush trims it back down.
		}
	}

	return nil
}

func (p *chunkBatchProcessor) totalIndexed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexed
}
