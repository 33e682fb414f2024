package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses the Ollama API for embeddings (the default: no
	// model download, works cross-platform).
	ProviderOllama ProviderType = "ollama"

	// ProviderOffline uses deterministic hash-based embeddings, for use
	// when no embedding service is reachable.
	ProviderOffline ProviderType = "offline"
)

// NewEmbedder creates an embedder for provider, with model overriding the
// provider's default model name when set. The SEMINDEX_EMBEDDER
// environment variable overrides provider selection entirely:
//   - "ollama": use OllamaEmbedder
//   - "offline": use OfflineEmbedder768 (no network dependency)
//
// Query embedding results are cached by default (saves repeat round-trips
// for the same query text); set SEMINDEX_EMBED_CACHE=false to disable.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	var embedder Embedder
	var err error

	if envProvider := os.Getenv("SEMINDEX_EMBEDDER"); envProvider != "" {
		switch strings.ToLower(envProvider) {
		case "ollama":
			embedder, err = newOllamaEmbedder(ctx, model)
		case "offline":
			embedder, err = NewOfflineEmbedder768(), nil
		}
	}

	if embedder == nil && err == nil {
		switch provider {
		case ProviderOllama:
			embedder, err = newOllamaEmbedder(ctx, model)
		case ProviderOffline:
			embedder, err = NewOfflineEmbedder768(), nil
		default:
			embedder, err = newOllamaEmbedder(ctx, model)
		}
	}

	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("SEMINDEX_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newOllamaEmbedder constructs an Ollama-backed embedder, honoring
// SEMINDEX_OLLAMA_HOST/SEMINDEX_OLLAMA_MODEL/SEMINDEX_OLLAMA_TIMEOUT
// overrides. It returns an error rather than silently falling back when
// Ollama is unreachable: the caller decides whether to retry with
// ProviderOffline.
func newOllamaEmbedder(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" {
		cfg.Model = model
	}

	if host := os.Getenv("SEMINDEX_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}

	if modelOverride := os.Getenv("SEMINDEX_OLLAMA_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}

	if timeoutStr := os.Getenv("SEMINDEX_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or run with an offline embedder: SEMINDEX_EMBEDDER=offline", err)
	}
	return embedder, nil
}

// ParseProvider converts a string to a ProviderType, defaulting to
// ProviderOllama for any unrecognized value.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "offline":
		return ProviderOffline
	case "ollama":
		return ProviderOllama
	default:
		return ProviderOllama
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{
		string(ProviderOllama),
		string(ProviderOffline),
	}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo describes a constructed embedder for status/diagnostic output.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder, unwrapping a CachedEmbedder
// to inspect the underlying implementation.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderOffline
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure. Use only in
// tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
