package memory

import (
	"context"
	"fmt"
)

// Pipeline ties the ingestion path (chunk, embed, index) to the query
// path (search, rerank) for one index registry.
type Pipeline struct {
	Index    *IndexRegistry
	Reranker *Reranker // optional; nil skips reranking

	ChunkSize    int
	ChunkOverlap int
	SearchK      int
	RerankTopN   int
}

// NewPipeline validates the chunking parameters and returns a pipeline.
func NewPipeline(index *IndexRegistry, reranker *Reranker, chunkSize, chunkOverlap, searchK, topN int) (*Pipeline, error) {
	if err := ValidateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &Pipeline{
		Index:        index,
		Reranker:     reranker,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		SearchK:      searchK,
		RerankTopN:   topN,
	}, nil
}

// Ingest chunks text and stores it in the scope.
func (p *Pipeline) Ingest(ctx context.Context, scopeID, text string) ([]MemoryChunk, error) {
	chunks, err := Chunk(text, p.ChunkSize, p.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	added, err := p.Index.Add(ctx, scopeID, chunks)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return added, nil
}

// Recall searches the scope for query and, when a reranker is set,
// narrows the hits to the relevant ones.
func (p *Pipeline) Recall(ctx context.Context, scopeID, query string) ([]MemoryChunk, error) {
	matches, err := p.Index.Search(ctx, scopeID, query, p.SearchK)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	candidates := make([]MemoryChunk, len(matches))
	for i, m := range matches {
		candidates[i] = m.Chunk
	}
	if p.Reranker == nil || len(candidates) == 0 {
		if p.RerankTopN > 0 && len(candidates) > p.RerankTopN {
			candidates = candidates[:p.RerankTopN]
		}
		return candidates, nil
	}
	return p.Reranker.Rerank(ctx, query, candidates, p.RerankTopN), nil
}
