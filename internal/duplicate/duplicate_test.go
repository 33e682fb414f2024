package duplicate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/semindex/semindex/internal/chunk"
)

func unitVector(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestFind_ClustersNearDuplicates(t *testing.T) {
	chunks := []*chunk.Chunk{
		{ID: "a", File: "a.go", SymbolName: "Parse", StartLine: 1, EndLine: 10},
		{ID: "b", File: "b.go", SymbolName: "ParseThing", StartLine: 1, EndLine: 10},
		{ID: "c", File: "c.go", SymbolName: "Unrelated", StartLine: 1, EndLine: 5},
	}
	vectors := [][]float32{
		unitVector(4, 0),
		unitVector(4, 0),
		unitVector(4, 3),
	}

	analysis := Find(chunks, vectors, Options{})

	assert.Equal(t, 3, analysis.ChunksScanned)
	assert.Equal(t, 0, analysis.ChunksDropped)
	if assert.Len(t, analysis.Clusters, 1) {
		cl := analysis.Clusters[0]
		assert.Equal(t, 2, cl.Count)
		assert.ElementsMatch(t, []string{"a.go", "b.go"}, cl.Files)
		assert.InDelta(t, 1.0, cl.AverageSimilarity, 0.0001)
	}
}

func TestFind_DropsBuildOutputPaths(t *testing.T) {
	chunks := []*chunk.Chunk{
		{ID: "a", File: "dist/bundle.go", StartLine: 1, EndLine: 4},
		{ID: "b", File: "src/main.go", StartLine: 1, EndLine: 4},
	}
	vectors := [][]float32{unitVector(2, 0), unitVector(2, 0)}

	analysis := Find(chunks, vectors, Options{BuildOutputPaths: []string{"dist/"}})

	assert.Equal(t, 1, analysis.ChunksScanned)
	assert.Equal(t, 1, analysis.ChunksDropped)
	assert.Empty(t, analysis.Clusters)
}

func TestFind_DedupesByFileAndLineRange(t *testing.T) {
	chunks := []*chunk.Chunk{
		{ID: "a", File: "a.go", StartLine: 1, EndLine: 10},
		{ID: "a-dup", File: "a.go", StartLine: 1, EndLine: 10},
	}
	vectors := [][]float32{unitVector(2, 0), unitVector(2, 1)}

	analysis := Find(chunks, vectors, Options{})

	assert.Equal(t, 1, analysis.ChunksScanned)
	assert.Equal(t, 1, analysis.ChunksDropped)
}

func TestFind_RespectsMinClusterSize(t *testing.T) {
	chunks := []*chunk.Chunk{
		{ID: "a", File: "a.go", StartLine: 1, EndLine: 4},
		{ID: "b", File: "b.go", StartLine: 1, EndLine: 4},
	}
	vectors := [][]float32{unitVector(2, 0), unitVector(2, 1)}

	analysis := Find(chunks, vectors, Options{MinClusterSize: 2, Threshold: 0.99})

	assert.Empty(t, analysis.Clusters)
}

func TestFind_CapsAtMaxClusters(t *testing.T) {
	var chunks []*chunk.Chunk
	var vectors [][]float32
	for i := 0; i < 6; i++ {
		// Each pair (2i, 2i+1) shares a direction, forming its own cluster.
		chunks = append(chunks,
			&chunk.Chunk{ID: string(rune('a' + 2*i)), File: string(rune('a'+2*i)) + ".go", StartLine: 1, EndLine: 4},
			&chunk.Chunk{ID: string(rune('a' + 2*i + 1)), File: string(rune('a'+2*i+1)) + ".go", StartLine: 1, EndLine: 4},
		)
		vectors = append(vectors, unitVector(12, i), unitVector(12, i))
	}

	analysis := Find(chunks, vectors, Options{MaxClusters: 2})

	assert.LessOrEqual(t, len(analysis.Clusters), 2)
}

func TestSuggestExtraction_SharedPrefix(t *testing.T) {
	chunks := []scoredChunk{
		{chunk: &chunk.Chunk{File: "a.go", SymbolName: "parseFoo"}},
		{chunk: &chunk.Chunk{File: "b.go", SymbolName: "parseBar"}},
	}
	suggestion := suggestExtraction([]int{0, 1}, chunks, []string{"a.go", "b.go"})
	assert.Contains(t, suggestion, "pars")
}

func TestSuggestExtraction_GenericFallback(t *testing.T) {
	chunks := []scoredChunk{
		{chunk: &chunk.Chunk{File: "a.go", SymbolName: "x"}},
		{chunk: &chunk.Chunk{File: "b.go", SymbolName: "y"}},
	}
	suggestion := suggestExtraction([]int{0, 1}, chunks, []string{"a.go", "b.go"})
	assert.Contains(t, suggestion, "shared")
}

func TestCosineDistance_IdenticalVectorsIsZero(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 0, cosineDistance(v, v), 0.0001)
}

func TestCosineDistance_ZeroVectorIsMaxDistance(t *testing.T) {
	assert.Equal(t, 2.0, cosineDistance([]float32{0, 0}, []float32{1, 1}))
}
