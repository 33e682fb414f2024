package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embed/embedBatch call.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for a
	// failed embedding call, per spec.md §7's EmbeddingFailure handling.
	DefaultMaxRetries = 3
)

// Closed embedding dimension set per spec.md §4.D: every Embedder this
// package constructs reports one of these two values from Dimensions().
const (
	// DefaultDimensions is the embedding dimension for the Ollama-backed
	// EmbeddingGemma-family models this package targets by default.
	DefaultDimensions = 768

	// DefaultContext is the model's context window in tokens.
	DefaultContext = 2048

	// SmallDimensions is the other member of spec.md §4.D's closed
	// dimension set, used by the deterministic offline embedder.
	SmallDimensions = 384
)

// Embedder generates vector embeddings for text per spec.md §4.D: pure
// and thread-safe from the caller's perspective, L2-normalized output so
// cosine similarity reduces to a dot product, and a fixed Dimensions()
// drawn from the closed {384, 768} set.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, one of {384, 768}.
	Dimensions() int

	// ModelName returns the model identifier embedded in the persistent
	// cache key and the manifest's provenance metadata.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases resources (HTTP transports, file handles).
	Close() error
}

// normalizeVector L2-normalizes v in place semantics (returns a new
// slice), per spec.md §4.D's requirement that embeddings be unit-length
// so cosine similarity is a plain dot product.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
