package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// OfflineEmbedder768 is the 768-dimension member of the offline embedder
// pair, dimension-compatible with the Ollama-backed embedder so a caller
// can fall back to it without forcing a full reindex.
type OfflineEmbedder768 struct {
	mu     sync.RWMutex
	closed bool
}

// NewOfflineEmbedder768 creates a new 768-dimension offline embedder.
func NewOfflineEmbedder768() *OfflineEmbedder768 {
	return &OfflineEmbedder768{}
}

// Embed generates the embedding for a single text.
func (e *OfflineEmbedder768) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, DefaultDimensions), nil
	}

	vector := e.generateVector(trimmed)
	return normalizeVector(vector), nil
}

// generateVector reuses static.go's tokenizer/n-gram pipeline at 768 dims.
func (e *OfflineEmbedder768) generateVector(text string) []float32 {
	vector := make([]float32, DefaultDimensions)

	tokens := tokenize(text)
	tokens = filterStopWords(tokens)
	for _, token := range tokens {
		index := hashToIndex(token, DefaultDimensions)
		vector[index] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		index := hashToIndex(ngram, DefaultDimensions)
		vector[index] += ngramWeight
	}

	return vector
}

// EmbedBatch generates embeddings for multiple texts.
func (e *OfflineEmbedder768) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *OfflineEmbedder768) Dimensions() int {
	return DefaultDimensions
}

// ModelName returns the model identifier.
func (e *OfflineEmbedder768) ModelName() string {
	return "offline-768"
}

// Available reports whether the embedder is ready (always true unless closed).
func (e *OfflineEmbedder768) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *OfflineEmbedder768) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
