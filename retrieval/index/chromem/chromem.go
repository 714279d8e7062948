// Package chromem backs the retrieval interface with chromem-go, an
// embedded pure-Go vector database. The index holds chunked knowledge
// documents in a single collection; embeddings are always supplied
// explicitly by the configured Embedder rather than a collection-level
// embedding function.
package chromem

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/retrieval"
)

// DefaultCollection is the knowledge collection name.
const DefaultCollection = "anaya-knowledge"

// Config configures the index.
type Config struct {
	// PersistDir stores the collection on disk when set; empty keeps
	// everything in memory.
	PersistDir string

	// Collection overrides DefaultCollection.
	Collection string

	// ChunkSize and ChunkOverlap control document splitting at ingest.
	// Zero values use the retrieval defaults.
	ChunkSize    int
	ChunkOverlap int

	// Embedder supplies vectors for documents and queries. Required.
	Embedder retrieval.Embedder

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Index implements retrieval.Searcher over a chromem collection.
type Index struct {
	col          *chromem.Collection
	embedder     retrieval.Embedder
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

// New opens (or creates) the collection.
func New(cfg Config) (*Index, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("chromem: Embedder is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = retrieval.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = retrieval.DefaultChunkOverlap
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.PersistDir != "" {
		persistent, err := chromem.NewPersistentDB(cfg.PersistDir, false)
		if err != nil {
			return nil, fmt.Errorf("chromem: open persistent db: %w", err)
		}
		db = persistent
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %q: %w", cfg.Collection, err)
	}

	return &Index{
		col:          col,
		embedder:     cfg.Embedder,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		logger:       cfg.Logger,
	}, nil
}

// AddDocuments chunks and embeds documents into the collection.
// Returns the number of chunks written.
func (ix *Index) AddDocuments(ctx context.Context, docs ...retrieval.Document) (int, error) {
	written := 0
	for _, doc := range docs {
		chunks := retrieval.ChunkText(doc.Text, ix.chunkSize, ix.chunkOverlap)
		for i, chunk := range chunks {
			embedding, err := ix.embedder.Embed(ctx, chunk)
			if err != nil {
				return written, fmt.Errorf("chromem: embed chunk %d of %q: %w", i, doc.ID, err)
			}
			id := doc.ID
			if id == "" {
				id = doc.Source
			}
			err = ix.col.AddDocument(ctx, chromem.Document{
				ID:        fmt.Sprintf("%s#%d", id, i),
				Content:   chunk,
				Embedding: embedding,
				Metadata: map[string]string{
					"source": doc.Source,
					"doc_id": id,
				},
			})
			if err != nil {
				return written, fmt.Errorf("chromem: add chunk %d of %q: %w", i, doc.ID, err)
			}
			written++
		}
	}
	ix.logger.Debug("indexed documents",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", written),
		zap.Int("collection_size", ix.col.Count()))
	return written, nil
}

// Count returns the number of chunks in the collection.
func (ix *Index) Count() int {
	return ix.col.Count()
}

// Search embeds the query and returns up to topK passages by
// descending similarity. An empty collection means no index has been
// built, which is reported as retrieval.ErrIndexUnavailable.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]retrieval.Passage, error) {
	size := ix.col.Count()
	if size == 0 {
		return nil, retrieval.ErrIndexUnavailable
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if topK > size {
		topK = size
	}

	embedding, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chromem: embed query: %w", err)
	}

	// chromem requires nResults <= collection size; the count can race
	// with concurrent ingest, so shrink and retry rather than fail.
	var results []chromem.Result
	for limit := topK; limit >= 1; limit-- {
		results, err = ix.col.QueryEmbedding(ctx, embedding, limit, nil, nil)
		if err == nil {
			break
		}
		if isTooFewDocsError(err) {
			if limit == 1 {
				return nil, retrieval.ErrIndexUnavailable
			}
			continue
		}
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	passages := make([]retrieval.Passage, 0, len(results))
	for _, r := range results {
		passages = append(passages, retrieval.Passage{
			Text:     r.Content,
			SourceID: r.Metadata["source"],
			Score:    r.Similarity,
		})
	}
	ix.logger.Debug("search",
		zap.String("query", query),
		zap.Int("top_k", topK),
		zap.Int("passages", len(passages)))
	return passages, nil
}

func isTooFewDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
