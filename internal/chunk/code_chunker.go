package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// CodeChunkerOptions configures the code chunker behavior
type CodeChunkerOptions struct {
	MaxChunkTokens int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens  int // Overlap between chunks when splitting (default: DefaultOverlapTokens)
}

// CodeChunker implements AST-aware code chunking using tree-sitter
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into an ordered sequence of semantic Chunks, computing
// complexity metrics, imports/exports, and call sites per the data model.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	_, supported := c.registry.GetByName(file.Language)
	if !supported {
		return c.chunkByLines(file)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		if file.ASTFallback == "error" {
			return nil, fmt.Errorf("parse failure for %s: %w", file.Path, err)
		}
		return c.chunkByLines(file)
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	imports := extractImports(tree, file.Language)
	exports := extractExports(tree, file.Language)

	symbolNodes := c.findSymbolNodes(tree, file.Language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	chunks := make([]*Chunk, 0, len(symbolNodes))
	for _, node := range symbolNodes {
		nodeChunks := c.createChunksFromNode(node, tree, file, fileContext, imports, exports)
		chunks = append(chunks, nodeChunks...)
	}

	return chunks, nil
}

type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

// findSymbolNodes finds all symbol-defining nodes, nested ones included
func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	var symbolNodes []*symbolNodeInfo

	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		symbolTypes[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeVariable
	}

	tree.Root.Walk(func(n *Node) bool {
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			sym := c.extractor.extractSpecialSymbol(n, tree.Source, language)
			if sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
				return true
			}
		}

		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			sym := c.extractSymbol(n, tree, symType, language)
			if sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
			}
		}
		return true
	})

	return symbolNodes
}

func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		if symType == SymbolTypeFunction || symType == SymbolTypeMethod {
			name = "anonymous"
		} else {
			return nil
		}
	}

	docComment := c.extractDocComment(n, tree.Source, language)
	signature := c.extractor.extractSignature(n, tree.Source, symType, language)

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  signature,
		Parameters: extractParameters(signature),
		DocComment: docComment,
	}
}

// extractDocComment extracts doc comment for a node, looking for multi-line comments
func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var commentLines []string
	pos := lineStart - 1

	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "//")}, commentLines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "#")}, commentLines...)
				continue
			}
		}

		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// chunkTypeForSymbol maps the extraction-time SymbolType onto the closed
// Chunk.Type set; constants and variables surface as plain blocks since the
// data model's `type` enum has no dedicated slot for them.
func chunkTypeForSymbol(st SymbolType) ChunkType {
	switch st {
	case SymbolTypeFunction, SymbolTypeMethod, SymbolTypeClass, SymbolTypeInterface:
		return ChunkType(st)
	default:
		return TypeBlock
	}
}

func (c *CodeChunker) createChunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, imports, exports []string) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])

	rawContentWithDoc := rawContent
	if info.symbol.DocComment != "" {
		rawContentWithDoc = c.getRawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	tokens := estimateTokens(rawContentWithDoc)
	if tokens <= c.options.MaxChunkTokens {
		return []*Chunk{c.createChunk(file, rawContentWithDoc, fileContext, info.symbol, imports, exports)}
	}

	return c.splitByLines(rawContent, info.symbol, file, fileContext, imports, exports, int(node.StartPoint.Row)+1)
}

func (c *CodeChunker) getRawContentWithDocComment(n *Node, source []byte, docComment string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

// splitByLines splits an oversized symbol into line-based sub-chunks with
// overlap, naming them "<name>", "<name>_part2", "<name>_part3", ... so split
// symbols remain discoverable under their original name via the first sub-chunk.
func (c *CodeChunker) splitByLines(content string, symbol *Symbol, file *FileInput, fileContext string, imports, exports []string, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return []*Chunk{}
	}

	maxLinesPerChunk := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}
	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStartLine := startLine + i
		chunkEndLine := startLine + end - 1

		name := symbol.Name
		if len(chunks) > 0 {
			name = fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1)
		}

		sub := &Symbol{
			Name:       name,
			Type:       symbol.Type,
			StartLine:  chunkStartLine,
			EndLine:    chunkEndLine,
			Signature:  symbol.Signature,
			Parameters: symbol.Parameters,
		}

		chunks = append(chunks, c.createChunk(file, chunkContent, fileContext, sub, imports, exports))

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

func (c *CodeChunker) createChunk(file *FileInput, rawContent, fileContext string, symbol *Symbol, imports, exports []string) *Chunk {
	content := combineContextAndContent(fileContext, rawContent)
	// rawContent ends on symbol.EndLine but may begin earlier, with a
	// prepended doc comment, so its first line is derived from the end.
	metrics := computeMetrics(rawContent, symbol.EndLine-strings.Count(rawContent, "\n"))

	return &Chunk{
		ID:        generateChunkID(file.Path, content),
		Content:   content,
		File:      file.Path,
		Language:  file.Language,
		StartLine: symbol.StartLine,
		EndLine:   symbol.EndLine,

		Type:        chunkTypeForSymbol(symbol.Type),
		SymbolName:  symbol.Name,
		SymbolType:  chunkTypeForSymbol(symbol.Type),
		ParentClass: "",

		Complexity:          metrics.Cyclomatic,
		CognitiveComplexity: metrics.Cognitive,
		HalsteadVolume:      metrics.HalsteadVolume,
		HalsteadDifficulty:  metrics.HalsteadDifficulty,
		HalsteadEffort:      metrics.HalsteadEffort,
		HalsteadBugs:        metrics.HalsteadBugs,

		Parameters: symbol.Parameters,
		Signature:  symbol.Signature,

		Imports:   imports,
		Exports:   exports,
		CallSites: metrics.CallSites,
	}
}

func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source)
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

// chunkByLines is the fallback for unsupported languages and for parse
// failures when ASTFallback is "line-based" (the default): metrics are left
// at their zero value, matching the spec's degrade-on-parse-failure rule.
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	chunkSize := file.ChunkSize
	if chunkSize == 0 {
		chunkSize = 128
	}
	overlap := file.ChunkOverlap
	if overlap == 0 {
		overlap = 16
	}

	lines := strings.Split(content, "\n")

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + chunkSize
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		startLine := i + 1
		endLine := end

		chunks = append(chunks, &Chunk{
			ID:        generateChunkID(file.Path, chunkContent),
			Content:   chunkContent,
			File:      file.Path,
			Language:  file.Language,
			StartLine: startLine,
			EndLine:   endLine,
			Type:      TypeBlock,
		})

		i = end - overlap
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks, nil
}

// generateChunkID generates a content-addressable chunk ID from file path
// and content, stable across line-number shifts (same content -> same ID).
func generateChunkID(filePath string, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]

	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
