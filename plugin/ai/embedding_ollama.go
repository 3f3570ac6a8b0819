package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// ollamaEmbedding calls a local Ollama server through chromem's embedding func.
// Ollama embeds one text per request.
type ollamaEmbedding struct {
	embed      chromem.EmbeddingFunc
	dimensions int
}

func newOllamaEmbedding(cfg *EmbeddingConfig) *ollamaEmbedding {
	return &ollamaEmbedding{
		embed:      chromem.NewEmbeddingFuncOllama(cfg.Model, cfg.BaseURL),
		dimensions: cfg.Dimensions,
	}
}

func (s *ollamaEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := s.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	return vector, nil
}

func (s *ollamaEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (s *ollamaEmbedding) Dimensions() int {
	return s.dimensions
}
