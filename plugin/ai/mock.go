package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// MockLLMService is a scripted LLMService for testing.
// Responses are returned in order; the last one repeats once the script runs out.
type MockLLMService struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     [][]Message

	// ChatFunc, when set, overrides the script.
	ChatFunc func(ctx context.Context, messages []Message) (string, error)
}

// NewMockLLMService creates a MockLLMService replying with the given responses.
func NewMockLLMService(responses ...string) *MockLLMService {
	return &MockLLMService{responses: responses}
}

// FailNext makes the next calls fail with err, one call per entry.
func (m *MockLLMService) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

func (m *MockLLMService) Chat(ctx context.Context, messages []Message) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	chatFunc := m.ChatFunc
	if chatFunc == nil && len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return "", err
	}
	var response string
	if chatFunc == nil {
		if len(m.responses) == 0 {
			m.mu.Unlock()
			return "", errors.New("no scripted response")
		}
		response = m.responses[0]
		if len(m.responses) > 1 {
			m.responses = m.responses[1:]
		}
	}
	m.mu.Unlock()

	if chatFunc != nil {
		return chatFunc(ctx, messages)
	}
	return response, nil
}

var _ LLMService = (*MockLLMService)(nil)

// Calls returns the messages of every Chat call so far.
func (m *MockLLMService) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// HashEmbeddingService embeds text as a normalized bag of hashed words.
// It is deterministic, so texts sharing words score higher under cosine similarity.
type HashEmbeddingService struct {
	dimensions int
	Err        error
}

// NewHashEmbeddingService creates a HashEmbeddingService with the given dimension.
func NewHashEmbeddingService(dimensions int) *HashEmbeddingService {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &HashEmbeddingService{dimensions: dimensions}
}

func (s *HashEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	vector := make([]float32, s.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		h.Write([]byte(word))
		vector[h.Sum32()%uint32(s.dimensions)]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vector, nil
	}
	norm = math.Sqrt(norm)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}
	return vector, nil
}

func (s *HashEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i], _ = s.Embed(ctx, text)
	}
	return vectors, nil
}

func (s *HashEmbeddingService) Dimensions() int {
	return s.dimensions
}
