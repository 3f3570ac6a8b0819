// Package rag ranks retrieved web documents and assembles them into
// citation-addressable context for response generation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/timeout"
	"github.com/hrygo/calliope/plugin/search"
)

// DefaultTopK is the number of documents kept after reranking.
const DefaultTopK = 3

// RankedDocument is a search result scored against the query.
type RankedDocument struct {
	search.Result
	Similarity float64
}

// Reranker orders documents by embedding similarity to the query.
type Reranker struct {
	embedder ai.EmbeddingService
}

// NewReranker creates a reranker over embedder.
func NewReranker(embedder ai.EmbeddingService) *Reranker {
	return &Reranker{embedder: embedder}
}

// Rerank embeds the query and every document in one batch and returns the
// top k documents by cosine similarity. Equal scores keep input order, so
// the result depends only on the inputs and the embedder.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []search.Result, k int) ([]RankedDocument, error) {
	if len(docs) == 0 {
		return []RankedDocument{}, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if r.embedder == nil {
		return nil, errors.New("no embedding service configured")
	}

	texts := make([]string, 0, len(docs)+1)
	texts = append(texts, query)
	for _, d := range docs {
		texts = append(texts, d.Text)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	queryVector := vectors[0]
	ranked := make([]RankedDocument, len(docs))
	for i, d := range docs {
		ranked[i] = RankedDocument{
			Result:     d,
			Similarity: CosineSimilarity(queryVector, vectors[i+1]),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})

	return ranked[:min(k, len(ranked))], nil
}

// RankInOrder keeps the first k documents in their given order with zero
// similarity. Used when embeddings are unavailable.
func RankInOrder(docs []search.Result, k int) []RankedDocument {
	if k <= 0 {
		k = DefaultTopK
	}
	ranked := make([]RankedDocument, 0, min(k, len(docs)))
	for _, d := range docs[:min(k, len(docs))] {
		ranked = append(ranked, RankedDocument{Result: d})
	}
	return ranked
}

// CosineSimilarity calculates cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
