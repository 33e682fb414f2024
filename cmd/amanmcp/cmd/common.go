package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/scanner"
	"github.com/semindex/semindex/internal/store"
	"github.com/semindex/semindex/pkg/version"
)

// projectRoot resolves the repository root for a CLI invocation: the
// current working directory, unless an explicit path was given.
func projectRoot(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("resolve project root %s: %w", explicit, err)
		}
		return abs, nil
	}
	return os.Getwd()
}

// components bundles the pieces every indexing-related command needs:
// a scanner, an AST chunker, an embedder, a persistent embedding cache,
// and the embedded Vector Store rooted at this project's index
// directory. Built fresh per invocation; nothing here is long-lived
// across commands.
type components struct {
	rootPath  string
	indexRoot string
	scanner   *scanner.Scanner
	chunker   chunk.Chunker
	embedder  embed.Embedder
	cache     *embed.PersistentCache
	codeStore store.CodeStore
}

// newComponents wires the Scanner, Chunker, Embedder, Persistent
// Embedding Cache, and embedded Code Store for rootPath, following the
// synthesized single-tenant path of spec.md §3 (no remote backend
// configuration is exposed by this CLI; swap NewEmbeddedCodeStore for
// NewRemoteCodeStore to point at Qdrant instead).
func newComponents(ctx context.Context, rootPath string) (*components, error) {
	indexRoot, err := store.IndexRoot(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve index root: %w", err)
	}
	if err := os.MkdirAll(indexRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, "")
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	cache, err := embed.NewPersistentCache(embed.DiskCacheConfig{
		CachePath:  filepath.Join(indexRoot, "embed-cache.db"),
		MaxEntries: embed.DefaultDiskCacheMaxEntries,
		ModelName:  embedder.ModelName(),
	})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	codeStore, err := store.NewEmbeddedCodeStore(indexRoot, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("create code store: %w", err)
	}

	return &components{
		rootPath:  rootPath,
		indexRoot: indexRoot,
		scanner:   sc,
		chunker:   chunk.NewCodeChunker(),
		embedder:  embedder,
		cache:     cache,
		codeStore: codeStore,
	}, nil
}

func (c *components) Close() {
	if c.cache != nil {
		_ = c.cache.Close()
	}
	if c.codeStore != nil {
		_ = c.codeStore.Close()
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
}

// toolVersion is stamped into every manifest save.
func toolVersion() string {
	return version.Short()
}
