// Package mock provides a deterministic, dependency-free embedder.
// Vectors are derived from token hashes, so texts sharing words land
// near each other while unrelated texts do not. Good enough for tests
// and for running the system without a local model; swap in the onnx
// embedder for real semantic similarity.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/monikatyab/anaya-m2m/lex"
)

// Embedder generates deterministic embeddings from token hashes.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the standard 384 dimensions
// (matching all-MiniLM-L6-v2 so configs stay interchangeable).
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// Embed builds the embedding as the normalized sum of per-token hash
// vectors. Identical texts embed identically; texts sharing content
// words embed nearby.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := lex.ContentWords(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	embedding := make([]float32, m.dimensions)
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		seed := h.Sum64()
		for i := 0; i < m.dimensions; i++ {
			// LCG keeps each token's vector stable across runs.
			seed = seed*6364136223846793005 + 1442695040888963407
			embedding[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
