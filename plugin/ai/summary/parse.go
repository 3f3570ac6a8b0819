package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when a consolidation response cannot be
// read as the structured summary shape.
var ErrMalformedResponse = errors.New("malformed summary response")

// Update is a parsed consolidation response. Nil fields were absent.
type Update struct {
	ShortSummary    *string   `json:"short_summary"`
	DetailedSummary *string   `json:"detailed_summary"`
	KeyTopics       *[]string `json:"key_topics"`
	ExtractedFacts  *[]string `json:"extracted_facts"`
}

func (u *Update) empty() bool {
	return u.ShortSummary == nil && u.DetailedSummary == nil && u.KeyTopics == nil && u.ExtractedFacts == nil
}

// ParseResponse locates the JSON object in a model response and decodes
// it. Code fences and surrounding prose are tolerated; a response with no
// object, invalid JSON, wrongly typed fields, or none of the four keys is
// malformed.
func ParseResponse(response string) (*Update, error) {
	body := stripCodeFence(strings.TrimSpace(response))

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}

	var u Update
	if err := json.Unmarshal([]byte(body[start:end+1]), &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if u.empty() {
		return nil, fmt.Errorf("%w: no summary fields present", ErrMalformedResponse)
	}

	if u.KeyTopics != nil {
		topics := cleanList(*u.KeyTopics)
		u.KeyTopics = &topics
	}
	if u.ExtractedFacts != nil {
		facts := cleanList(*u.ExtractedFacts)
		u.ExtractedFacts = &facts
	}
	return &u, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line, e.g. ```json.
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// cleanList trims entries and drops blanks and exact repeats.
func cleanList(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
