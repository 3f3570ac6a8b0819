package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoSources = []Source{
	{ID: 1, Title: "Eiffel Tower", URL: "https://e.example"},
	{ID: 2, Title: "Paris", URL: "https://p.example"},
}

func TestValidateCitationsConforming(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"single span", "[s:1]The Eiffel Tower is in Paris.[/s:1]"},
		{"split sentence", "[s:1]The tower is 330 m tall.[/s:1] [s:2]Paris has 2 million residents.[/s:2]"},
		{"punctuation between spans", "[s:1]One.[/s:1]\n\n[s:2]Two.[/s:2]"},
		{"empty response", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ValidateCitations(tt.text, twoSources))
		})
	}
}

func TestValidateCitationsScenarioD(t *testing.T) {
	sources := []Source{{ID: 1, Title: "Eiffel Tower", URL: "https://e.example"}}
	sentence := "The Eiffel Tower is in Paris."

	assert.Equal(t, "[s:1]The Eiffel Tower is in Paris.[/s:1]", TagSpan(1, sentence))
	assert.Empty(t, ValidateCitations(TagSpan(1, sentence), sources))

	violations := ValidateCitations(sentence, sources)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationUntagged, violations[0].Kind)
	assert.Equal(t, sentence, violations[0].Text)
}

func TestValidateCitationsViolations(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		kinds []ViolationKind
	}{
		{"unknown source", "[s:3]Claim.[/s:3]", []ViolationKind{ViolationUnknownSource}},
		{"source id zero", "[s:0]Claim.[/s:0]", []ViolationKind{ViolationUnknownSource}},
		{"mismatched close", "[s:1]Claim.[/s:2]", []ViolationKind{ViolationMismatched}},
		{"unopened close", "[/s:1]", []ViolationKind{ViolationUnopened}},
		{"unclosed", "[s:1]Claim.", []ViolationKind{ViolationUnclosed}},
		{"nested", "[s:1]Outer [s:2]inner[/s:2]", []ViolationKind{ViolationNested}},
		{"empty span", "[s:1] [/s:1]", []ViolationKind{ViolationEmptySpan}},
		{"foreign syntax", "[s:1]Claim.[/s:1] [2]", []ViolationKind{ViolationUntagged, ViolationForeignSyntax}},
		{"untagged tail", "[s:1]Claim.[/s:1] Also this.", []ViolationKind{ViolationUntagged}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := ValidateCitations(tt.text, twoSources)
			kinds := make([]ViolationKind, len(violations))
			for i, v := range violations {
				kinds[i] = v.Kind
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestContainsCitations(t *testing.T) {
	assert.True(t, ContainsCitations("see [s:1]this[/s:1]"))
	assert.True(t, ContainsCitations("[/s:12]"))
	assert.False(t, ContainsCitations("plain answer [1]"))
	assert.False(t, ContainsCitations(""))
}

func TestCitationInstructions(t *testing.T) {
	prompt := CitationInstructions(twoSources)
	assert.Contains(t, prompt, "[s:ID]text[/s:ID]")
	assert.Contains(t, prompt, "[1] Eiffel Tower (https://e.example)")
	assert.Contains(t, prompt, "[2] Paris (https://p.example)")
	assert.Contains(t, prompt, "Example: [s:1]The Eiffel Tower is in Paris.[/s:1]")
}
