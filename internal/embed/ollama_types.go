package embed

import "time"

// Ollama API constants.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the recommended embedding model for code+docs,
	// dimension-compatible with spec.md §4.D's 768-dim member.
	DefaultOllamaModel = "embeddinggemma"

	// OllamaConnectTimeout is the default for OllamaConfig.ConnectTimeout.
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the primary model is unavailable.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"nomic-embed-text",
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model to use.
	Model string

	// FallbackModels are tried in order if the primary model is unavailable.
	FallbackModels []string

	// Dimensions can be set to override auto-detection (0 = auto-detect).
	Dimensions int

	// BatchSize for batch embedding requests (default: 32).
	BatchSize int

	// Timeout bounds a single API request (default: DefaultTimeout).
	Timeout time.Duration

	// ConnectTimeout defaults to 5s. The initial health check (model lookup
	// and dimension detection) runs under Timeout, not ConnectTimeout.
	ConnectTimeout time.Duration

	// MaxRetries is the number of retries after the initial attempt for
	// transient failures (default: 3), per spec.md §7's EmbeddingFailure handling.
	MaxRetries int

	// PoolSize is the HTTP connection pool size (default: 4).
	PoolSize int

	// SkipHealthCheck skips the initial Ollama availability check (for testing).
	SkipHealthCheck bool

	// ProgressFunc is called after each batch with (completed, total) counts,
	// letting callers display progress during a long embed run.
	ProgressFunc func(completed, total int)
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		Dimensions:     0, // auto-detect
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// OllamaEmbedResponse is the Ollama /api/embed response.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes an installed model.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
