package sidecar

import "testing"

func TestSplitPageIntoSections(t *testing.T) {
	text := `INTRODUCTION
This is the introduction section with some text.

1.1 Scope
The scope of this document covers requirements.

1.2 Definitions
"Force Majeure" means any event beyond control.`

	sections := splitPageIntoSections(text, 1)
	if len(sections) < 3 {
		t.Fatalf("expected at least 3 sections, got %d", len(sections))
	}
	if sections[0].Heading != "INTRODUCTION" {
		t.Errorf("section[0].Heading = %q, want INTRODUCTION", sections[0].Heading)
	}
	if sections[2].Type != "definition" {
		t.Errorf("section[2].Type = %q, want definition", sections[2].Type)
	}
}

func TestSplitPageIntoSectionsEmptyText(t *testing.T) {
	if sections := splitPageIntoSections("", 1); len(sections) != 0 {
		t.Errorf("expected 0 sections for empty text, got %d", len(sections))
	}
}

func TestIsLikelyHeading(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"INTRODUCTION", true},
		{"1.1 Scope", true},
		{"Section 5 General", true},
		{"This is a regular sentence.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isLikelyHeading(tt.line); got != tt.want {
			t.Errorf("isLikelyHeading(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	result := &ParseResult{
		Sections: []Section{
			{Heading: "Title", Level: 1, Content: "body text"},
		},
	}
	md := RenderMarkdown(result)
	if md == "" {
		t.Fatal("expected non-empty markdown")
	}
}
