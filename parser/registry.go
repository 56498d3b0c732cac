package parser

import "strings"

// Registry dispatches a language to the Extractor that understands
// its structure, falling back to a whole-file span when the language
// is unsupported or the language-specific extractor finds no
// boundaries (e.g. a script with no top-level functions).
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry builds a registry with the built-in code and prose
// extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for lang := range codePatterns {
		r.extractors[lang] = &CodeExtractor{Language: lang}
	}
	for _, lang := range []string{"markdown", "restructuredtext", "text"} {
		r.extractors[lang] = &ProseExtractor{Language: lang}
	}
	return r
}

// Register adds or overrides the extractor for a language.
func (r *Registry) Register(language string, e Extractor) {
	r.extractors[language] = e
}

// ExtractFile splits a file's content into spans, detecting language
// from the path extension. If the language has no registered
// extractor, or the extractor returns no spans, the whole file becomes
// a single fallback span so nothing in the repository goes
// unindexed.
func (r *Registry) ExtractFile(path, content string) []Span {
	language := DetectLanguage(path)

	if e, ok := r.extractors[language]; ok {
		spans, err := e.Extract(content)
		if err == nil && len(spans) > 0 {
			return spans
		}
	}

	return []Span{wholeFileSpan(path, language, content)}
}

func wholeFileSpan(path, language, content string) Span {
	kind := KindCode
	if IsProseLanguage(language) || language == "" {
		kind = KindProse
	}
	lineCount := strings.Count(content, "\n") + 1
	return Span{
		StartLine: 1,
		EndLine:   lineCount,
		Symbol:    "",
		Kind:      kind,
		Language:  language,
		Text:      content,
	}
}
