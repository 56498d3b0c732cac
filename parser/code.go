package parser

import (
	"regexp"
	"strings"
)

// symbolPattern pairs a regex that matches a top-level declaration
// line with the capture group index holding the symbol's name.
type symbolPattern struct {
	re        *regexp.Regexp
	nameGroup int
}

// codePatterns maps a language to the ordered patterns used to find
// span boundaries: function, class, interface, and type-alias
// declarations. Patterns only match lines with no leading whitespace,
// so a nested function inside another function is not mistaken for a
// new top-level span — it stays part of its enclosing span's body.
var codePatterns = map[string][]symbolPattern{
	"go": {
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)`), 1},
		{regexp.MustCompile(`^type\s+(\w+)\s+(?:struct|interface)\b`), 1},
	},
	"python": {
		{regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`), 1},
		{regexp.MustCompile(`^class\s+(\w+)`), 1},
	},
	"javascript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)`), 1},
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)`), 1},
		{regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`), 1},
	},
	"typescript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)`), 1},
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)`), 1},
		{regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`), 1},
		{regexp.MustCompile(`^(?:export\s+)?type\s+(\w+)\s*=`), 1},
	},
}

// CodeExtractor splits source text into spans at top-level function,
// class, interface, and type-alias boundaries. A span runs from its
// declaration line to the line before the next top-level declaration,
// or to end of file.
type CodeExtractor struct {
	Language string
}

func (c *CodeExtractor) Extract(content string) ([]Span, error) {
	patterns := codePatterns[c.Language]
	lines := strings.Split(content, "\n")

	type boundary struct {
		line   int
		symbol string
	}
	var boundaries []boundary

	for i, line := range lines {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		for _, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				boundaries = append(boundaries, boundary{line: i, symbol: m[p.nameGroup]})
				break
			}
		}
	}

	if len(boundaries) == 0 {
		return nil, nil
	}

	spans := make([]Span, 0, len(boundaries))
	for i, b := range boundaries {
		end := len(lines) - 1
		if i+1 < len(boundaries) {
			end = boundaries[i+1].line - 1
		}
		text := strings.Join(lines[b.line:end+1], "\n")
		text = strings.TrimRight(text, "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		spans = append(spans, Span{
			StartLine: b.line + 1,
			EndLine:   end + 1,
			Symbol:    b.symbol,
			Kind:      KindCode,
			Language:  c.Language,
			Text:      text,
		})
	}
	return spans, nil
}
