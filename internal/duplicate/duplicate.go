// Package duplicate finds near-duplicate code chunks by cosine distance
// over their embeddings, clustering them with a BFS connected-components
// pass. The graph-plus-BFS shape is grounded on the teacher's own
// similarity-then-traversal idiom in internal/store/hnsw.go (cosine
// distance over normalized vectors) generalized from single-query ANN
// search to an exhaustive pairwise comparison, since duplicate detection
// needs every pair, not just a query's nearest neighbors.
package duplicate

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/semindex/semindex/internal/chunk"
)

// Options configures Find.
type Options struct {
	Threshold     float64 // cosine similarity threshold; 0 uses DefaultThreshold
	MinClusterSize int     // 0 uses DefaultMinClusterSize
	MaxClusters    int     // 0 uses DefaultMaxClusters
	BuildOutputPaths []string // path substrings to drop before clustering (e.g. "dist/", "build/")
}

const (
	DefaultThreshold      = 0.90
	DefaultMinClusterSize = 2
	DefaultMaxClusters    = 20
)

func (o Options) normalized() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = DefaultMinClusterSize
	}
	if o.MaxClusters <= 0 {
		o.MaxClusters = DefaultMaxClusters
	}
	return o
}

// Cluster is a connected component of near-duplicate chunks.
type Cluster struct {
	ChunkIDs         []string
	Files            []string
	Count            int
	TotalLines       int
	AverageSimilarity float64
	Suggestion       string
}

// Analysis is the output of Find, matching spec.md §6's
// duplicates.find(chunks, options) -> DuplicateAnalysis contract.
type Analysis struct {
	Clusters      []Cluster
	ChunksScanned int
	ChunksDropped int
}

// scoredChunk pairs a chunk with its embedding for the pairwise pass.
type scoredChunk struct {
	chunk  *chunk.Chunk
	vector []float32
}

// Find clusters near-duplicate chunks among chunks/vectors (same index
// correspondence as store.CodeStore.InsertBatch).
func Find(chunks []*chunk.Chunk, vectors [][]float32, opts Options) Analysis {
	opts = opts.normalized()

	deduped, dropped := dedupeAndFilter(chunks, vectors, opts.BuildOutputPaths)
	n := len(deduped)

	adjacency := make([][]int, n)
	simSum := make(map[[2]int]float64)
	edgeThreshold := 2 * (1 - opts.Threshold)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := cosineDistance(deduped[i].vector, deduped[j].vector)
			if dist < edgeThreshold {
				adjacency[i] = append(adjacency[i], j)
				adjacency[j] = append(adjacency[j], i)
				simSum[[2]int{i, j}] = 1 - dist/2
			}
		}
	}

	visited := make([]bool, n)
	var rawClusters [][]int
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		component := bfs(i, adjacency, visited)
		if len(component) >= opts.MinClusterSize {
			rawClusters = append(rawClusters, component)
		}
	}

	clusters := make([]Cluster, 0, len(rawClusters))
	for _, component := range rawClusters {
		clusters = append(clusters, buildCluster(component, deduped, simSum))
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Count*clusters[i].TotalLines > clusters[j].Count*clusters[j].TotalLines
	})
	if len(clusters) > opts.MaxClusters {
		clusters = clusters[:opts.MaxClusters]
	}

	return Analysis{Clusters: clusters, ChunksScanned: n, ChunksDropped: dropped}
}

// dedupeAndFilter drops build-output paths and collapses chunks that
// share a (file, startLine-endLine) key, per spec.md §4.M step 1.
func dedupeAndFilter(chunks []*chunk.Chunk, vectors [][]float32, buildOutputPaths []string) ([]scoredChunk, int) {
	seen := make(map[string]bool, len(chunks))
	out := make([]scoredChunk, 0, len(chunks))
	dropped := 0

	for i, c := range chunks {
		if isBuildOutput(c.File, buildOutputPaths) {
			dropped++
			continue
		}
		key := fmt.Sprintf("%s:%d-%d", c.File, c.StartLine, c.EndLine)
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		out = append(out, scoredChunk{chunk: c, vector: vectors[i]})
	}
	return out, dropped
}

func isBuildOutput(file string, paths []string) bool {
	for _, p := range paths {
		if strings.Contains(file, p) {
			return true
		}
	}
	return false
}

func bfs(start int, adjacency [][]int, visited []bool) []int {
	queue := []int{start}
	visited[start] = true
	var component []int
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		component = append(component, node)
		for _, next := range adjacency[node] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return component
}

func buildCluster(component []int, chunks []scoredChunk, simSum map[[2]int]float64) Cluster {
	var (
		ids        []string
		fileSet    = make(map[string]bool)
		totalLines int
		pairSum    float64
		pairCount  int
	)

	for _, idx := range component {
		c := chunks[idx].chunk
		ids = append(ids, c.ID)
		fileSet[c.File] = true
		totalLines += c.EndLine - c.StartLine + 1
	}

	for i := 0; i < len(component); i++ {
		for j := i + 1; j < len(component); j++ {
			a, b := component[i], component[j]
			if a > b {
				a, b = b, a
			}
			if sim, ok := simSum[[2]int{a, b}]; ok {
				pairSum += sim
				pairCount++
			}
		}
	}

	var avgSim float64
	if pairCount > 0 {
		avgSim = pairSum / float64(pairCount)
	}

	files := make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(files)

	return Cluster{
		ChunkIDs:          ids,
		Files:             files,
		Count:             len(component),
		TotalLines:        totalLines,
		AverageSimilarity: avgSim,
		Suggestion:        suggestExtraction(component, chunks, files),
	}
}

// suggestExtraction implements spec.md §4.M step 5: a shared-prefix
// naming suggestion when at least two files in the cluster have symbol
// names sharing a prefix of 4+ characters, else generic advice.
func suggestExtraction(component []int, chunks []scoredChunk, files []string) string {
	if len(files) < 2 {
		return "Consider extracting this repeated logic into a shared helper."
	}

	prefixFiles := make(map[string]map[string]bool)
	for _, idx := range component {
		c := chunks[idx].chunk
		if len(c.SymbolName) < 4 {
			continue
		}
		prefix := c.SymbolName[:4]
		if prefixFiles[prefix] == nil {
			prefixFiles[prefix] = make(map[string]bool)
		}
		prefixFiles[prefix][c.File] = true
	}

	var bestPrefix string
	bestCount := 1
	for prefix, fset := range prefixFiles {
		if len(fset) >= 2 && len(fset) > bestCount {
			bestPrefix = prefix
			bestCount = len(fset)
		}
	}
	if bestPrefix != "" {
		return "Consider extracting " + bestPrefix + "* into a shared utility."
	}
	return "Consider extracting this repeated logic into a shared helper across " + filepath.Base(files[0]) + " and related files."
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}
