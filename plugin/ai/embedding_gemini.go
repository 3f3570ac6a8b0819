package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type geminiEmbedding struct {
	client     *genai.Client
	model      string
	dimensions int
}

func newGeminiEmbedding(cfg *EmbeddingConfig) (*geminiEmbedding, error) {
	client, err := newGenAIClient(cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}
	return &geminiEmbedding{
		client:     client,
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (s *geminiEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *geminiEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var config *genai.EmbedContentConfig
	if s.dimensions > 0 {
		config = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(s.dimensions))}
	}
	resp, err := s.client.Models.EmbedContent(ctx, s.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (s *geminiEmbedding) Dimensions() int {
	return s.dimensions
}
