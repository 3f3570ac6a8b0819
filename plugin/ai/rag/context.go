package rag

import (
	"fmt"
	"strings"
)

// Source identifies one document in an assembled context. IDs are 1-based.
type Source struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ContextBlock is the text of one source.
type ContextBlock struct {
	SourceID int    `json:"source_id"`
	Text     string `json:"text"`
}

// RetrievalContext is the assembled retrieval output. Blocks and Sources
// are aligned: Blocks[i].SourceID == Sources[i].ID == i+1.
type RetrievalContext struct {
	Context string         `json:"context"`
	Blocks  []ContextBlock `json:"-"`
	Sources []Source       `json:"sources"`
}

// EmptyContext returns a context with no text and no sources.
func EmptyContext() *RetrievalContext {
	return &RetrievalContext{
		Blocks:  []ContextBlock{},
		Sources: []Source{},
	}
}

// IsEmpty reports whether no document survived retrieval.
func (c *RetrievalContext) IsEmpty() bool {
	return c == nil || len(c.Sources) == 0
}

// Assemble numbers documents in rank order and renders each as a
// "Source [id]: text" block.
func Assemble(docs []RankedDocument) *RetrievalContext {
	if len(docs) == 0 {
		return EmptyContext()
	}

	rc := &RetrievalContext{
		Blocks:  make([]ContextBlock, 0, len(docs)),
		Sources: make([]Source, 0, len(docs)),
	}
	rendered := make([]string, 0, len(docs))
	for i, d := range docs {
		id := i + 1
		rc.Blocks = append(rc.Blocks, ContextBlock{SourceID: id, Text: d.Text})
		rc.Sources = append(rc.Sources, Source{ID: id, Title: d.Title, URL: d.URL})
		rendered = append(rendered, fmt.Sprintf("Source [%d]: %s", id, d.Text))
	}
	rc.Context = strings.Join(rendered, "\n\n")
	return rc
}
