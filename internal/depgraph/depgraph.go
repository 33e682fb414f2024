// Package depgraph builds a code dependency graph from chunk import/export
// metadata. Nodes are identified by their file path strings and edges are
// held as string-keyed adjacency sets (map[string]map[string]bool, forward
// and reverse); there are no integer node indices. Grounded on internal/chunk's
// imports/exports extraction (extractor.go/imports.go) for the raw edges
// and on the teacher's bounded-BFS idiom (internal/index/coordinator.go's
// worker-pool style queue draining) for the traversal loop.
package depgraph

import (
	"path/filepath"
	"strings"

	"github.com/semindex/semindex/internal/chunk"
)

// Direction restricts which edges a traversal follows.
type Direction string

const (
	DirectionForward Direction = "forward" // this file's imports
	DirectionReverse Direction = "reverse" // files that import this one
	DirectionBoth    Direction = "both"
)

// Options configures Generate.
type Options struct {
	RootFile         string   // single root; mutually exclusive with RootFiles
	RootFiles        []string // multi-root; takes precedence over RootFile
	Depth            int      // <0 means unlimited
	Direction        Direction
	IncludeTests     bool
	IncludeComplexity bool
	ModuleLevel      bool
	TestPaths        []string // path substrings identifying test files, used unless IncludeTests
}

// safety limits from spec.md §4.N: beyond these the builder switches to a
// flat direct-edges-only traversal to keep bounded stack depth.
const (
	maxNodesBeforeFlatMode = 200
	maxEdgesBeforeFlatMode = 500
	maxEdgesPerNodeInFlatMode = 25
)

// Node is one file (or, in module-level mode, one directory) in the graph.
type Node struct {
	ID         string
	File       string // empty in module-level mode
	Module     string // populated in module-level mode
	Complexity int    // sum of chunk complexity in the file, if IncludeComplexity
}

// Edge is a directed dependency from From to To.
type Edge struct {
	From string
	To   string
}

// Graph is the output of Generate, matching spec.md §6's
// graph.generate(options) -> CodeGraph contract.
type Graph struct {
	Nodes       []Node
	Edges       []Edge
	RootFile    string
	RootFiles   []string
	Depth       int
	Direction   Direction
	ModuleLevel bool
	FlatMode    bool // true when the safety limits forced direct-edges-only traversal
}

// fileEdges is the raw forward adjacency derived from chunk imports,
// deduplicated per (from, to) pair.
type fileEdges struct {
	forward map[string]map[string]bool
	reverse map[string]map[string]bool
	files   map[string]bool
}

// Generate builds a dependency graph over chunks per spec.md §4.N.
func Generate(chunks []*chunk.Chunk, opts Options) Graph {
	roots := opts.RootFiles
	if len(roots) == 0 && opts.RootFile != "" {
		roots = []string{opts.RootFile}
	}

	fe := buildFileEdges(chunks, opts)

	visited := make(map[string]bool)
	var edges []Edge
	queue := make([]queueItem, 0, len(roots))
	for _, r := range roots {
		queue = append(queue, queueItem{file: r, depth: 0})
		visited[r] = true
	}

	flat := estimateFlatMode(fe, roots)

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if opts.Depth >= 0 && item.depth >= opts.Depth {
			continue
		}

		neighbors := neighborsFor(fe, item.file, opts.Direction)
		if flat && len(neighbors) > maxEdgesPerNodeInFlatMode {
			neighbors = neighbors[:maxEdgesPerNodeInFlatMode]
		}

		for _, n := range neighbors {
			if n == item.file {
				continue // self-loops suppressed
			}
			edges = append(edges, directedEdge(item.file, n, opts.Direction))
			if !visited[n] {
				visited[n] = true
				if !flat {
					queue = append(queue, queueItem{file: n, depth: item.depth + 1})
				}
			}
		}
	}

	nodes := buildNodes(visited, chunks, opts)
	if opts.ModuleLevel {
		nodes, edges = collapseToModules(nodes, edges)
	}

	return Graph{
		Nodes:       nodes,
		Edges:       dedupeEdges(edges),
		RootFile:    opts.RootFile,
		RootFiles:   opts.RootFiles,
		Depth:       opts.Depth,
		Direction:   opts.Direction,
		ModuleLevel: opts.ModuleLevel,
		FlatMode:    flat,
	}
}

type queueItem struct {
	file  string
	depth int
}

func directedEdge(from, to string, dir Direction) Edge {
	if dir == DirectionReverse {
		return Edge{From: to, To: from}
	}
	return Edge{From: from, To: to}
}

func estimateFlatMode(fe fileEdges, roots []string) bool {
	if len(fe.files) > maxNodesBeforeFlatMode {
		return true
	}
	total := 0
	for _, tos := range fe.forward {
		total += len(tos)
	}
	return total > maxEdgesBeforeFlatMode
}

func buildFileEdges(chunks []*chunk.Chunk, opts Options) fileEdges {
	fe := fileEdges{
		forward: make(map[string]map[string]bool),
		reverse: make(map[string]map[string]bool),
		files:   make(map[string]bool),
	}

	knownFiles := uniqueFiles(chunks)

	for _, c := range chunks {
		if !opts.IncludeTests && isTestFile(c.File, opts.TestPaths) {
			continue
		}
		fe.files[c.File] = true
		for _, imp := range c.Imports {
			target := resolveImport(imp, knownFiles)
			if target == "" || target == c.File {
				continue
			}
			if !opts.IncludeTests && isTestFile(target, opts.TestPaths) {
				continue
			}
			if fe.forward[c.File] == nil {
				fe.forward[c.File] = make(map[string]bool)
			}
			fe.forward[c.File][target] = true
			if fe.reverse[target] == nil {
				fe.reverse[target] = make(map[string]bool)
			}
			fe.reverse[target][c.File] = true
		}
	}
	return fe
}

func neighborsFor(fe fileEdges, file string, dir Direction) []string {
	var out []string
	if dir == DirectionForward || dir == DirectionBoth || dir == "" {
		for n := range fe.forward[file] {
			out = append(out, n)
		}
	}
	if dir == DirectionReverse || dir == DirectionBoth {
		for n := range fe.reverse[file] {
			out = append(out, n)
		}
	}
	return out
}

func uniqueFiles(chunks []*chunk.Chunk) []string {
	seen := make(map[string]bool, len(chunks))
	var files []string
	for _, c := range chunks {
		if !seen[c.File] {
			seen[c.File] = true
			files = append(files, c.File)
		}
	}
	return files
}

// resolveImport matches an import string against the known file set: an
// exact normalized-path match first, then a fuzzy suffix match after
// stripping relative specifiers, per spec.md §4.N's resolution rule.
func resolveImport(imp string, knownFiles []string) string {
	clean := strings.TrimPrefix(imp, "./")
	clean = strings.TrimLeft(clean, "./")

	for _, f := range knownFiles {
		if f == imp || f == clean {
			return f
		}
	}

	base := filepath.Base(clean)
	for _, f := range knownFiles {
		if strings.HasSuffix(f, clean) || filepath.Base(f) == base {
			return f
		}
	}
	return ""
}

func isTestFile(path string, testPaths []string) bool {
	if strings.Contains(path, "_test.") || strings.Contains(path, ".test.") {
		return true
	}
	for _, tp := range testPaths {
		if strings.Contains(path, tp) {
			return true
		}
	}
	return false
}

func buildNodes(visited map[string]bool, chunks []*chunk.Chunk, opts Options) []Node {
	complexityByFile := make(map[string]int)
	if opts.IncludeComplexity {
		for _, c := range chunks {
			complexityByFile[c.File] += c.Complexity
		}
	}

	nodes := make([]Node, 0, len(visited))
	for f := range visited {
		nodes = append(nodes, Node{ID: f, File: f, Complexity: complexityByFile[f]})
	}
	return nodes
}

// collapseToModules implements spec.md §4.N's module-level mode: each
// node becomes its containing directory, inter-directory edges are
// deduplicated, and a module's complexity is the sum of its files'.
func collapseToModules(nodes []Node, edges []Edge) ([]Node, []Edge) {
	moduleOf := make(map[string]string, len(nodes))
	complexityByModule := make(map[string]int)
	var moduleOrder []string
	seen := make(map[string]bool)

	for _, n := range nodes {
		m := filepath.Dir(n.File)
		moduleOf[n.File] = m
		complexityByModule[m] += n.Complexity
		if !seen[m] {
			seen[m] = true
			moduleOrder = append(moduleOrder, m)
		}
	}

	moduleNodes := make([]Node, 0, len(moduleOrder))
	for _, m := range moduleOrder {
		moduleNodes = append(moduleNodes, Node{ID: m, Module: m, Complexity: complexityByModule[m]})
	}

	dedup := make(map[[2]string]bool)
	var moduleEdges []Edge
	for _, e := range edges {
		fromMod, toMod := moduleOf[e.From], moduleOf[e.To]
		if fromMod == "" || toMod == "" || fromMod == toMod {
			continue
		}
		key := [2]string{fromMod, toMod}
		if dedup[key] {
			continue
		}
		dedup[key] = true
		moduleEdges = append(moduleEdges, Edge{From: fromMod, To: toMod})
	}

	return moduleNodes, moduleEdges
}

func dedupeEdges(edges []Edge) []Edge {
	seen := make(map[Edge]bool, len(edges))
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
