// CodeStore is the Vector Store abstraction from spec.md §4.F: a durable
// store for {vector, content, metadata} rows scoped to a tenant quadruple
// (orgId, repoId, branch, commitSha), with both vector search and
// structured scan/query access. It sits above the lower-level
// ID+vector-only VectorStore (HNSWStore/RemoteStore) defined in types.go,
// which this package keeps as the raw ANN engine each backend wraps.
package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/semindex/semindex/internal/chunk"
)

// RelevanceTag buckets a similarity score per spec.md §4.F.
type RelevanceTag string

const (
	RelevanceHighlyRelevant RelevanceTag = "highly_relevant"
	RelevanceRelevant       RelevanceTag = "relevant"
	RelevanceLooselyRelated RelevanceTag = "loosely_related"
	RelevanceNotRelevant    RelevanceTag = "not_relevant"
)

// RelevanceForScore derives the relevance bucket for a cosine similarity
// score, using the thresholds fixed by spec.md §4.F.
func RelevanceForScore(score float32) RelevanceTag {
	switch {
	case score >= 0.75:
		return RelevanceHighlyRelevant
	case score >= 0.55:
		return RelevanceRelevant
	case score >= 0.35:
		return RelevanceLooselyRelated
	default:
		return RelevanceNotRelevant
	}
}

// SearchHit is one result of a vector Search call.
type SearchHit struct {
	Content   string
	Metadata  chunk.Chunk
	Score     float32
	Relevance RelevanceTag
}

// ScanFilter restricts ScanWithFilter/ScanAll to a subset of rows.
type ScanFilter struct {
	Language string // exact match if set
	Pattern  string // substring/glob match against Chunk.File if set
	File     string // exact match if set
	Limit    int    // <=0 means the backend's implementation-defined high cap
}

// SymbolFilter restricts QuerySymbols. Only chunks whose SymbolType is one
// of function/method/class/interface are eligible regardless of filter.
type SymbolFilter struct {
	Language   string
	Pattern    string // matched against SymbolName
	SymbolType chunk.ChunkType // empty means any of the four symbol kinds
	Limit      int
}

// CrossScopeFilter relaxes tenant isolation for a cross-repo/cross-branch
// query. Only meaningful for backends that support more than one tenant
// at a time; see CrossScopeStore.
type CrossScopeFilter struct {
	RepoIDs []string // empty means "no repo restriction, still org-scoped"
	Branch  string   // empty means "any branch"
}

// Typed failures per spec.md §4.F's error taxonomy. The orchestrator
// treats BackendUnavailable as fatal per file. RemoteCodeStore.InsertBatch
// retries a transient Upsert failure up to 3x with exponential backoff
// (internal/retry.Do) before surfacing BackendUnavailable; EmbeddedCodeStore
// has no network boundary to retry across.
var (
	ErrNotInitialized      = errors.New("code store: not initialized")
	ErrBatchLengthMismatch = errors.New("code store: batch length mismatch")
	ErrBackendUnavailable  = errors.New("code store: backend unavailable")
	ErrRowNotFound         = errors.New("code store: row not found")
	ErrConflict            = errors.New("code store: conflict")
)

// CodeStore is the abstract Vector Store operation set every backend
// implements. All operations are scoped to the tenant the store was
// constructed with; cross-scope relaxation is a separate, optional trait
// (CrossScopeStore) that callers feature-detect via a type assertion,
// per the "tagged variant" design note in spec.md §9.
type CodeStore interface {
	// Initialize creates backing tables/collections if absent and primes
	// the cached Version File counter.
	Initialize(ctx context.Context) error

	// InsertBatch appends rows; caller guarantees len(chunks) ==
	// len(vectors). Vectors must match the store's configured dimension.
	InsertBatch(ctx context.Context, chunks []*chunk.Chunk, vectors [][]float32) error

	// Search returns the k nearest neighbors to queryVector, restricted
	// to this store's tenant scope.
	Search(ctx context.Context, queryVector []float32, limit int) ([]SearchHit, error)

	// ScanWithFilter returns rows matching filter without a vector query.
	ScanWithFilter(ctx context.Context, filter ScanFilter) ([]*chunk.Chunk, error)

	// ScanAll returns every row in scope (subject to an
	// implementation-defined high cap), optionally narrowed by language
	// or path pattern.
	ScanAll(ctx context.Context, filter ScanFilter) ([]*chunk.Chunk, error)

	// QuerySymbols scans rows whose SymbolType is one of
	// function/method/class/interface and whose SymbolName matches
	// filter.Pattern, if given.
	QuerySymbols(ctx context.Context, filter SymbolFilter) ([]*chunk.Chunk, error)

	// DeleteByFile removes every row scoped to this tenant with
	// Chunk.File == file.
	DeleteByFile(ctx context.Context, file string) error

	// UpdateFile is DeleteByFile followed by InsertBatch, atomic from the
	// caller's point of view: no reader observes a state with neither the
	// old nor the new rows for file.
	UpdateFile(ctx context.Context, file string, chunks []*chunk.Chunk, vectors [][]float32) error

	// Clear deletes all rows in the current tenant scope only.
	Clear(ctx context.Context) error

	// HasData reports whether this tenant scope currently holds any rows.
	HasData(ctx context.Context) (bool, error)

	// CheckVersion inspects the Version File; true means the on-disk
	// counter is greater than the last value this handle cached, i.e. a
	// hot consumer should Reconnect. Rate-limited to ~1 real read/second.
	CheckVersion(ctx context.Context) (bool, error)

	// Reconnect refreshes any cached handles after CheckVersion reports
	// staleness.
	Reconnect(ctx context.Context) error

	Close() error
}

// CrossScopeStore is the extended trait for backends that can relax
// tenant isolation for a cross-repo/cross-branch query (the remote
// backend only: the embedded backend has exactly one tenant by
// construction, so there is nothing to relax). Callers type-assert for
// this interface rather than calling it unconditionally.
type CrossScopeStore interface {
	CodeStore
	SearchCrossScope(ctx context.Context, queryVector []float32, limit int, filter CrossScopeFilter) ([]SearchHit, error)
}

func matchesScanFilter(c *chunk.Chunk, f ScanFilter) bool {
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	if f.File != "" && c.File != f.File {
		return false
	}
	if f.Pattern != "" && !pathMatchesPattern(c.File, f.Pattern) {
		return false
	}
	return true
}

// isSymbolKind reports whether t is one of the four symbol kinds
// QuerySymbols restricts to, per spec.md §4.F.
func isSymbolKind(t chunk.ChunkType) bool {
	switch t {
	case chunk.TypeFunction, chunk.TypeMethod, chunk.TypeClass, chunk.TypeInterface:
		return true
	default:
		return false
	}
}

func matchesSymbolFilter(c *chunk.Chunk, f SymbolFilter) bool {
	if !isSymbolKind(c.SymbolType) {
		return false
	}
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	if f.SymbolType != "" && c.SymbolType != f.SymbolType {
		return false
	}
	if f.Pattern != "" && !pathMatchesPattern(c.SymbolName, f.Pattern) {
		return false
	}
	return true
}

// pathMatchesPattern matches a file path or symbol name against a
// fuzzy pattern: an exact filepath.Match glob if the pattern contains
// metacharacters, otherwise a plain substring match.
func pathMatchesPattern(s, pattern string) bool {
	if pattern == "" {
		return true
	}
	if strings.ContainsAny(pattern, "*?[") {
		if ok, err := filepath.Match(pattern, s); err == nil && ok {
			return true
		}
	}
	return strings.Contains(s, pattern)
}
