package rag

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	citationTag = regexp.MustCompile(`\[(/?)s:(\d+)\]`)

	// Citation styles models fall back to: [1], [1, 2], [Source 1], [^1].
	foreignCitation = regexp.MustCompile(`(?i)\[(?:source\s*|\^)?\d+(?:\s*,\s*\d+)*\]`)
)

// ViolationKind classifies a breach of the cited-mode output contract.
type ViolationKind string

const (
	ViolationUntagged      ViolationKind = "untagged_span"
	ViolationUnknownSource ViolationKind = "unknown_source"
	ViolationNested        ViolationKind = "nested_span"
	ViolationMismatched    ViolationKind = "mismatched_close"
	ViolationUnopened      ViolationKind = "unopened_close"
	ViolationUnclosed      ViolationKind = "unclosed_span"
	ViolationEmptySpan     ViolationKind = "empty_span"
	ViolationForeignSyntax ViolationKind = "foreign_citation_syntax"
)

// CitationViolation is one contract breach at a byte offset of the response.
type CitationViolation struct {
	Kind     ViolationKind `json:"kind"`
	SourceID int           `json:"source_id,omitempty"`
	Offset   int           `json:"offset"`
	Text     string        `json:"text,omitempty"`
}

func (v CitationViolation) String() string {
	if v.SourceID > 0 {
		return fmt.Sprintf("%s at %d (source %d)", v.Kind, v.Offset, v.SourceID)
	}
	return fmt.Sprintf("%s at %d: %q", v.Kind, v.Offset, v.Text)
}

// TagSpan wraps text in the citation tags for source id.
func TagSpan(id int, text string) string {
	return fmt.Sprintf("[s:%d]%s[/s:%d]", id, text, id)
}

// ContainsCitations reports whether text uses cited-mode tags.
func ContainsCitations(text string) bool {
	return citationTag.MatchString(text)
}

// CitationInstructions returns the system prompt section that binds the
// model to the cited-mode contract for sources.
func CitationInstructions(sources []Source) string {
	var sb strings.Builder
	sb.WriteString("You are in research mode. Answer using the numbered sources below.\n")
	sb.WriteString("Citation rules (strict):\n")
	sb.WriteString("- Wrap every span of text that draws on a source as [s:ID]text[/s:ID], where ID is the source number.\n")
	sb.WriteString("- If a sentence draws on several sources, split it and tag each part with its own source.\n")
	sb.WriteString("- Tags must not be nested. Every opening tag needs a matching closing tag with the same ID.\n")
	sb.WriteString("- Do not use any other citation style such as [1], (Source 1) or footnotes.\n")
	sb.WriteString("- Only use IDs from the list below.\n")
	sb.WriteString("Example: " + TagSpan(1, "The Eiffel Tower is in Paris.") + "\n")
	if len(sources) > 0 {
		sb.WriteString("\nSources:\n")
		for _, s := range sources {
			fmt.Fprintf(&sb, "[%d] %s (%s)\n", s.ID, s.Title, s.URL)
		}
	}
	return sb.String()
}

// ValidateCitations checks a cited-mode response against sources. Any
// text outside a tagged span that contains letters or digits is reported
// as untagged. An empty result means the response conforms.
func ValidateCitations(text string, sources []Source) []CitationViolation {
	known := make(map[int]bool, len(sources))
	for _, s := range sources {
		known[s.ID] = true
	}

	var violations []CitationViolation
	report := func(kind ViolationKind, id, offset int, snippet string) {
		violations = append(violations, CitationViolation{Kind: kind, SourceID: id, Offset: offset, Text: snippet})
	}
	checkUntagged := func(segment string, offset int) {
		if hasContent(segment) {
			report(ViolationUntagged, 0, offset, strings.TrimSpace(segment))
		}
	}

	open := false
	openID, openAt, spanStart, last := 0, 0, 0, 0
	for _, m := range citationTag.FindAllStringSubmatchIndex(text, -1) {
		if !open {
			checkUntagged(text[last:m[0]], last)
		}
		closing := m[3] > m[2]
		id, _ := strconv.Atoi(text[m[4]:m[5]])

		if !closing {
			if open {
				report(ViolationNested, id, m[0], "")
			}
			if !known[id] {
				report(ViolationUnknownSource, id, m[0], "")
			}
			open, openID, openAt, spanStart = true, id, m[0], m[1]
		} else {
			switch {
			case !open:
				report(ViolationUnopened, id, m[0], "")
			case id != openID:
				report(ViolationMismatched, id, m[0], "")
			case !hasContent(text[spanStart:m[0]]):
				report(ViolationEmptySpan, id, openAt, "")
			}
			open = false
		}
		last = m[1]
	}
	if open {
		report(ViolationUnclosed, openID, openAt, "")
	} else {
		checkUntagged(text[last:], last)
	}

	for _, m := range foreignCitation.FindAllStringIndex(text, -1) {
		report(ViolationForeignSyntax, 0, m[0], text[m[0]:m[1]])
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Offset < violations[j].Offset
	})
	return violations
}

func hasContent(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
