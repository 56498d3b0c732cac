package parser

import (
	"regexp"
	"strings"
)

var markdownHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// ProseExtractor splits markdown (or plain text treated as a single
// section) into spans at heading boundaries. It is the prose
// counterpart to CodeExtractor: symbol is the heading text instead of
// a function/class name.
type ProseExtractor struct {
	Language string
}

func (p *ProseExtractor) Extract(content string) ([]Span, error) {
	lines := strings.Split(content, "\n")

	type boundary struct {
		line    int
		heading string
	}
	var boundaries []boundary
	for i, line := range lines {
		if m := markdownHeadingRe.FindStringSubmatch(line); m != nil {
			boundaries = append(boundaries, boundary{line: i, heading: strings.TrimSpace(m[2])})
		}
	}

	if len(boundaries) == 0 {
		if strings.TrimSpace(content) == "" {
			return nil, nil
		}
		return []Span{{
			StartLine: 1,
			EndLine:   len(lines),
			Symbol:    "",
			Kind:      KindProse,
			Language:  p.Language,
			Text:      content,
		}}, nil
	}

	spans := make([]Span, 0, len(boundaries))
	for i, b := range boundaries {
		end := len(lines) - 1
		if i+1 < len(boundaries) {
			end = boundaries[i+1].line - 1
		}
		text := strings.TrimRight(strings.Join(lines[b.line:end+1], "\n"), "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		spans = append(spans, Span{
			StartLine: b.line + 1,
			EndLine:   end + 1,
			Symbol:    b.heading,
			Kind:      KindProse,
			Language:  p.Language,
			Text:      text,
		})
	}
	return spans, nil
}
