package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Chunk Go File with Functions
func TestCodeChunker_ChunkGoFile_ReturnsFunctionChunks(t *testing.T) {
	source := `package main

import "fmt"

func Hello() {
	fmt.Println("Hello")
}

func Goodbye() {
	fmt.Println("Goodbye")
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	assert.Len(t, chunks, 2, "should return 2 chunks for 2 functions")

	assert.Contains(t, chunks[0].Content, "Hello")
	assert.Equal(t, TypeFunction, chunks[0].Type)
	assert.Equal(t, "Hello", chunks[0].SymbolName)

	assert.Contains(t, chunks[1].Content, "Goodbye")
	assert.Equal(t, TypeFunction, chunks[1].Type)
	assert.Equal(t, "Goodbye", chunks[1].SymbolName)

	for _, c := range chunks {
		assert.Contains(t, c.Content, `import "fmt"`)
		assert.Contains(t, c.Content, "package main")
		assert.Contains(t, c.Imports, `import "fmt"`)
	}
}

// TS02: Include Doc Comments
func TestCodeChunker_ChunkGoFile_IncludesDocComments(t *testing.T) {
	source := `package main

import "fmt"

// Greet returns a greeting message for the given name.
func Greet(name string) string {
	if name == "" {
		return "Hello, stranger!"
	}
	return fmt.Sprintf("Hello, %s!", name)
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Contains(t, chunks[0].Content, "Greet returns a greeting")
	assert.Equal(t, "Greet", chunks[0].SymbolName)
	assert.Equal(t, []string{"name"}, chunks[0].Parameters)
	assert.Greater(t, chunks[0].Complexity, 1, "branch on empty name should raise cyclomatic complexity")
}

// TS03: TypeScript Class with Imports
func TestCodeChunker_ChunkTypeScript_IncludesImportContext(t *testing.T) {
	source := `import { Logger } from './logger';
import { Config } from './config';

export class UserService {
	private logger: Logger;

	constructor(config: Config) {
		this.logger = new Logger(config);
	}

	getUser(id: string): User | null {
		this.logger.info('Getting user: ' + id);
		return null;
	}
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "user-service.ts",
		Content:  []byte(source),
		Language: "typescript",
	})

	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 1)

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, "import { Logger }") &&
			strings.Contains(c.Content, "import { Config }") {
			found = true
			break
		}
	}
	assert.True(t, found, "chunks should include import context")

	for _, c := range chunks {
		assert.Contains(t, c.Imports, "import { Logger } from './logger';")
	}
}

// TS04: Fallback for Unsupported Language
func TestCodeChunker_ChunkUnsupportedLanguage_UsesLineFallback(t *testing.T) {
	source := `defmodule HelloWorld do
  def hello do
    IO.puts("Hello, World!")
  end

  def goodbye do
    IO.puts("Goodbye!")
  end
end
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "hello.ex",
		Content:  []byte(source),
		Language: "elixir", // Unsupported language
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks, "should return at least one chunk")

	combined := ""
	for _, c := range chunks {
		combined += c.Content
		assert.Equal(t, TypeBlock, c.Type)
		assert.Zero(t, c.Complexity, "line-fallback chunks carry no complexity metrics")
	}
	assert.Contains(t, combined, "defmodule HelloWorld")
}

// TS05: Split Large Function
func TestCodeChunker_ChunkLargeFunction_SplitsIntoMultipleChunks(t *testing.T) {
	lines := make([]string, 200)
	for i := 0; i < 200; i++ {
		lines[i] = "\tfmt.Println(\"Line " + string(rune('A'+i%26)) + "\")"
	}

	source := `package main

import "fmt"

func VeryLargeFunction() {
` + strings.Join(lines, "\n") + `
}
`
	chunker := NewCodeChunkerWithOptions(CodeChunkerOptions{
		MaxChunkTokens: 300, // Lower threshold to force splitting
	})
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "large.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1, "large function should be split into multiple chunks")

	for _, c := range chunks {
		tokens := estimateTokens(c.Content)
		assert.LessOrEqual(t, tokens, 300+DefaultOverlapTokens,
			"chunk should be under size limit (with overlap tolerance)")
	}
}

// TS05b: Parent Symbol Registration
// When a large symbol is split, the first sub-chunk keeps the parent's name
// so it stays discoverable, and later sub-chunks are suffixed "_partN".
func TestCodeChunker_ChunkLargeFunction_RegistersParentSymbol(t *testing.T) {
	lines := make([]string, 200)
	for i := 0; i < 200; i++ {
		lines[i] = "\tfmt.Println(\"Line " + string(rune('A'+i%26)) + "\")"
	}

	source := `package main

import "fmt"

func LargeSearchMethod() {
` + strings.Join(lines, "\n") + `
}
`
	chunker := NewCodeChunkerWithOptions(CodeChunkerOptions{
		MaxChunkTokens: 300,
	})
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "search.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "function should be split into multiple chunks")

	assert.Equal(t, "LargeSearchMethod", chunks[0].SymbolName)
	for i, c := range chunks[1:] {
		assert.Contains(t, c.SymbolName, "_part", "chunk %d should be named as a part", i+2)
	}
}

// TS06: Symbol Extraction
func TestCodeChunker_ChunkGoFile_ExtractsSymbolMetadata(t *testing.T) {
	source := `package main

func ProcessData(input []byte) ([]byte, error) {
	return input, nil
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "process.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, "ProcessData", chunk.SymbolName)
	assert.Equal(t, TypeFunction, chunk.Type)
	assert.Equal(t, 3, chunk.StartLine) // 1-indexed
	assert.Equal(t, 5, chunk.EndLine)
	assert.Equal(t, []string{"input"}, chunk.Parameters)
}

func TestCodeChunker_ChunkGoMethod_ExtractsReceiver(t *testing.T) {
	source := `package main

type Server struct {
	addr string
}

func (s *Server) Start() error {
	return nil
}

func (s *Server) Stop() error {
	return nil
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "server.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	var methodChunks []*Chunk
	for _, c := range chunks {
		if c.Type == TypeMethod {
			methodChunks = append(methodChunks, c)
		}
	}
	assert.GreaterOrEqual(t, len(methodChunks), 2, "should have 2 method chunks")
}

func TestCodeChunker_ChunkID_IsUnique(t *testing.T) {
	source := `package main

func One() {}

func Two() {}

func Three() {}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "funcs.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 3)

	ids := make(map[string]bool)
	for _, c := range chunks {
		assert.Len(t, c.ID, 16, "chunk ID should be 16 characters")
		assert.False(t, ids[c.ID], "chunk ID should be unique")
		ids[c.ID] = true
	}
}

func TestCodeChunker_Chunk_SetsFileAndLanguage(t *testing.T) {
	source := `package main

func Hello() {}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "hello.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, "hello.go", chunk.File)
	assert.Equal(t, "go", chunk.Language)
}

func TestCodeChunker_ChunkPythonClass_SplitsIfLarge(t *testing.T) {
	source := `import logging

class DataProcessor:
    def __init__(self, config):
        self.config = config
        self.logger = logging.getLogger(__name__)

    def process(self, data):
        return data

    def validate(self, data):
        return True
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "processor.py",
		Content:  []byte(source),
		Language: "python",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, "DataProcessor") {
			found = true
			break
		}
	}
	assert.True(t, found, "should contain DataProcessor class")
}

func TestCodeChunker_ChunkJavaScript_HandlesArrowFunctions(t *testing.T) {
	source := `const greet = (name) => {
	return 'Hello, ' + name;
};

const farewell = function(name) {
	return 'Goodbye, ' + name;
};
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "greetings.js",
		Content:  []byte(source),
		Language: "javascript",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	names := make([]string, 0)
	for _, c := range chunks {
		names = append(names, c.SymbolName)
	}
	assert.Contains(t, names, "greet")
	assert.Contains(t, names, "farewell")
}

func TestCodeChunker_SupportedExtensions(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	exts := chunker.SupportedExtensions()

	assert.Contains(t, exts, ".go")
	assert.Contains(t, exts, ".ts")
	assert.Contains(t, exts, ".tsx")
	assert.Contains(t, exts, ".js")
	assert.Contains(t, exts, ".jsx")
	assert.Contains(t, exts, ".py")
}

func TestCodeChunker_EmptyFile_ReturnsNoChunks(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "empty.go",
		Content:  []byte(""),
		Language: "go",
	})

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCodeChunker_OnlyPackageDecl_ReturnsNoChunks(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "pkg.go",
		Content:  []byte("package main\n"),
		Language: "go",
	})

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCodeChunker_ChunkTypeScriptInterface(t *testing.T) {
	source := `export interface User {
	id: string;
	name: string;
	email: string;
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "types.ts",
		Content:  []byte(source),
		Language: "typescript",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "User", chunks[0].SymbolName)
	assert.Equal(t, TypeInterface, chunks[0].Type)
	assert.Contains(t, chunks[0].Exports, "User")
}

func TestCodeChunker_ContentIncludesContext(t *testing.T) {
	source := `package main

import (
	"fmt"
	"strings"
)

func Hello(name string) {
	fmt.Println(strings.ToUpper(name))
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "hello.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Contains(t, chunks[0].Content, "package main")
	assert.Contains(t, chunks[0].Content, "import")
	assert.Contains(t, chunks[0].Content, "func Hello")
	assert.Equal(t, []string{"name"}, chunks[0].Parameters)
}

// BUG-052: Content-Addressable Chunk IDs
// These tests verify that chunk IDs are stable across line number shifts,
// which is critical for checkpoint/resume functionality.

func TestCodeChunker_StableIDsAcrossLineShifts(t *testing.T) {
	source1 := `package main

import "fmt"

func Hello() {
	fmt.Println("Hello")
}
`
	source2 := `package main

import "fmt"

func NewFunc() {
	fmt.Println("New")
}

func Hello() {
	fmt.Println("Hello")
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks1, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source1),
		Language: "go",
	})
	require.NoError(t, err)

	chunks2, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source2),
		Language: "go",
	})
	require.NoError(t, err)

	var helloID1, helloID2 string
	for _, c := range chunks1 {
		if c.SymbolName == "Hello" {
			helloID1 = c.ID
		}
	}
	for _, c := range chunks2 {
		if c.SymbolName == "Hello" {
			helloID2 = c.ID
		}
	}

	require.NotEmpty(t, helloID1, "Hello chunk should exist in source1")
	require.NotEmpty(t, helloID2, "Hello chunk should exist in source2")

	assert.Equal(t, helloID1, helloID2,
		"Hello() chunk ID should be stable across line number shifts")
}

func TestCodeChunker_DifferentContentDifferentID(t *testing.T) {
	source1 := `package main

func Hello() {
	println("Hello")
}
`
	source2 := `package main

func Hello() {
	println("Hello World") // Changed content
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks1, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source1),
		Language: "go",
	})
	require.NoError(t, err)

	chunks2, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source2),
		Language: "go",
	})
	require.NoError(t, err)

	assert.NotEqual(t, chunks1[0].ID, chunks2[0].ID,
		"Modified function content should produce different chunk ID")
}

func TestCodeChunker_SameContentDifferentFile(t *testing.T) {
	source := `package main

func Hello() {
	println("Hello")
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks1, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "file1.go",
		Content:  []byte(source),
		Language: "go",
	})
	require.NoError(t, err)

	chunks2, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "file2.go",
		Content:  []byte(source),
		Language: "go",
	})
	require.NoError(t, err)

	assert.NotEqual(t, chunks1[0].ID, chunks2[0].ID,
		"Same content in different files should produce different chunk IDs")
}

// TS07: Constant and variable extraction folds into block chunks, since the
// data model's Type enum has no dedicated constant/variable member.

func TestCodeChunker_ChunkGoFile_ExtractsConstants(t *testing.T) {
	source := `package config

// DefaultTimeout is the default request timeout in seconds.
const DefaultTimeout = 30

// MaxRetries is the maximum number of retry attempts.
const MaxRetries = 3
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "config.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks, "should extract constants as chunks")

	var names []string
	for _, c := range chunks {
		assert.Equal(t, TypeBlock, c.Type)
		names = append(names, c.SymbolName)
	}

	assert.Contains(t, names, "DefaultTimeout")
	assert.Contains(t, names, "MaxRetries")
}

func TestCodeChunker_ChunkGoFile_ExtractsGroupedConstants(t *testing.T) {
	source := `package status

const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "status.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks, "should extract grouped constants")

	var constChunk *Chunk
	for _, c := range chunks {
		if c.SymbolName == "StatusPending" {
			constChunk = c
			break
		}
	}

	require.NotNil(t, constChunk, "should have a constant chunk")
	assert.Contains(t, constChunk.Content, "StatusPending")
	assert.Contains(t, constChunk.Content, "StatusFailed")
}

func TestCodeChunker_ChunkGoFile_ExtractsVariables(t *testing.T) {
	source := `package config

// DefaultConfig holds the default configuration values.
var DefaultConfig = Config{
	Timeout:    30,
	MaxRetries: 3,
	BaseURL:    "https://api.example.com",
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "config.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks, "should extract variables as chunks")

	var found bool
	for _, c := range chunks {
		if c.SymbolName == "DefaultConfig" {
			found = true
		}
	}
	assert.True(t, found, "should extract DefaultConfig variable")
}

func TestCodeChunker_ChunkTypeScript_ExtractsConstants(t *testing.T) {
	source := `export const API_CONFIG = {
	baseUrl: 'https://api.example.com',
	timeout: 30000,
	retryAttempts: 3,
	headers: {
		'Content-Type': 'application/json',
	},
};

export const ERROR_MESSAGES = {
	NETWORK_ERROR: 'Failed to connect to the server',
	AUTH_ERROR: 'Authentication failed',
	NOT_FOUND: 'Resource not found',
};
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "config.ts",
		Content:  []byte(source),
		Language: "typescript",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks, "should extract TypeScript constants")

	var names []string
	for _, c := range chunks {
		names = append(names, c.SymbolName)
	}

	assert.Contains(t, names, "API_CONFIG")
	assert.Contains(t, names, "ERROR_MESSAGES")
}

// Benchmark test
func BenchmarkCodeChunker_ChunkGoFile(b *testing.B) {
	source := `package main

import "fmt"

func One() { fmt.Println("1") }
func Two() { fmt.Println("2") }
func Three() { fmt.Println("3") }
func Four() { fmt.Println("4") }
func Five() { fmt.Println("5") }
func Six() { fmt.Println("6") }
func Seven() { fmt.Println("7") }
func Eight() { fmt.Println("8") }
func Nine() { fmt.Println("9") }
func Ten() { fmt.Println("10") }
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	input := &FileInput{
		Path:     "funcs.go",
		Content:  []byte(source),
		Language: "go",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chunker.Chunk(context.Background(), input)
	}
}
