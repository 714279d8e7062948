// Package retrieval defines the query-time contract against a pre-built
// knowledge index: a Searcher returns ranked passages for a text query,
// and an Embedder turns text into vectors for implementations that need
// one. Index construction itself lives with the implementations (see
// index/chromem); consumers only ever search.
package retrieval

import (
	"context"
	"errors"
	"strings"
)

// ErrIndexUnavailable signals that no index has been built or loaded.
// The wellness executor treats it as "no passages" and degrades to an
// ungrounded fragment; it is never fatal to a turn.
var ErrIndexUnavailable = errors.New("retrieval: index unavailable")

// Passage is one ranked retrieval result. Passages are produced fresh
// per query and never cached across turns or persisted inside a Turn.
type Passage struct {
	Text     string  `json:"text"`
	SourceID string  `json:"source_id"`
	Score    float32 `json:"relevance_score"`
}

// Searcher queries the pre-built index.
type Searcher interface {
	// Search returns up to topK passages ordered by descending
	// relevance. Returns ErrIndexUnavailable when no index exists.
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Embedder converts text to a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Document is a source text handed to an index at ingest time.
type Document struct {
	ID     string
	Source string
	Text   string
}

// DefaultTopK is the number of passages fetched per query unless
// configured otherwise.
const DefaultTopK = 6

// Default chunking parameters for ingest.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// ChunkText splits text into chunks of at most size runes with the
// given overlap between consecutive chunks. Breaks prefer whitespace
// near the boundary so words stay intact. Blank input yields nil.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= size {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}
		// Walk back to the nearest whitespace so chunks end on a word.
		cut := end
		for cut > start+size/2 && !isSpace(runes[cut-1]) {
			cut--
		}
		if cut == start+size/2 {
			cut = end
		}
		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
