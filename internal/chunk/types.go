package chunk

import (
	"context"
)

// ChunkType is the closed set of chunk kinds produced by the chunker.
type ChunkType string

const (
	TypeFunction  ChunkType = "function"
	TypeMethod    ChunkType = "method"
	TypeClass     ChunkType = "class"
	TypeInterface ChunkType = "interface"
	TypeModule    ChunkType = "module"
	TypeBlock     ChunkType = "block"
)

const (
	// DefaultMaxChunkTokens bounds a single chunk before it is split across
	// several line-based sub-chunks.
	DefaultMaxChunkTokens = 512
	// DefaultOverlapTokens is the overlap applied between consecutive
	// sub-chunks of an oversized symbol, so a boundary never cuts an
	// embedding off mid-statement without any shared context.
	DefaultOverlapTokens = 64
	// TokensPerChar is the rough characters-per-token ratio used to convert
	// a token budget into a line/byte budget without running a tokenizer.
	TokensPerChar = 4
)

// CallSite is a call expression observed inside a chunk's line range.
type CallSite struct {
	Symbol string
	Line   int
}

// Tenant identifies the multi-tenant scope a chunk belongs to. The embedded
// vector store backend synthesizes these from the project root path; the
// remote backend requires all four fields to be non-empty.
type Tenant struct {
	OrgID     string
	RepoID    string
	Branch    string
	CommitSha string
}

// Chunk is the unit of storage produced by the Chunker and persisted by the
// Vector Store. Field names mirror the data model: content, file, line
// range, language, structural type, optional symbol identity, complexity
// metrics, and the tenant quadruple.
type Chunk struct {
	ID       string // content-addressed, stable across line-number shifts
	Content  string // text of the chunk, possibly truncated
	File     string // repository-relative path, forward-slash canonicalized
	Language string // normalized identifier from the closed language set

	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive

	Type        ChunkType
	SymbolName  string // optional; "anonymous" for unnamed functions
	SymbolType  ChunkType
	ParentClass string // optional

	Complexity          int // cyclomatic
	CognitiveComplexity int
	HalsteadVolume      float64
	HalsteadDifficulty  float64
	HalsteadEffort      float64
	HalsteadBugs        float64

	Parameters []string
	Signature  string

	Imports   []string
	Exports   []string
	CallSites []CallSite

	Tenant Tenant
}

// FileInput is input for the Chunker interface.
type FileInput struct {
	Path     string // repository-relative path
	Content  []byte
	Language string

	ChunkSize    int    // line-based fallback chunk size, in lines
	ChunkOverlap int    // line-based fallback overlap, in lines
	UseAST       bool   // default true
	ASTFallback  string // "line-based" (default) or "error"
}

// Chunker splits a file into an ordered sequence of semantic Chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
	SupportedExtensions() []string
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string

	NameField string
}
