package sidecar

import "strings"

// RenderMarkdown flattens a ParseResult's section tree into a single
// markdown document. Heading levels map directly to "#" depth; tables
// and other structured section types are rendered as fenced blocks
// under their own heading so the span parser can still treat them as
// a distinct unit.
func RenderMarkdown(result *ParseResult) string {
	var b strings.Builder
	for _, s := range result.Sections {
		renderSection(&b, s)
	}
	return b.String()
}

func renderSection(b *strings.Builder, s Section) {
	level := s.Level
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}

	if s.Heading != "" {
		b.WriteString(strings.Repeat("#", level))
		b.WriteString(" ")
		b.WriteString(s.Heading)
		b.WriteString("\n\n")
	}

	content := strings.TrimSpace(s.Content)
	if content != "" {
		if s.Type == "code" {
			b.WriteString("```\n")
			b.WriteString(content)
			b.WriteString("\n```\n\n")
		} else {
			b.WriteString(content)
			b.WriteString("\n\n")
		}
	}

	for _, child := range s.Children {
		renderSection(b, child)
	}
}
