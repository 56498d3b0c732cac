package parser

import (
	"path/filepath"
	"strings"
)

// languageByExtension maps a bare file extension (without the leading
// dot) to the language name used throughout llmc (route keys,
// span.Language, graph entity metadata).
var languageByExtension = map[string]string{
	"go":   "go",
	"py":   "python",
	"js":   "javascript",
	"jsx":  "javascript",
	"mjs":  "javascript",
	"ts":   "typescript",
	"tsx":  "typescript",
	"md":   "markdown",
	"mdx":  "markdown",
	"rst":  "restructuredtext",
	"txt":  "text",
}

// DetectLanguage returns the language for a path's extension, or ""
// if the extension is not recognized.
func DetectLanguage(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return languageByExtension[ext]
}

// IsProseLanguage reports whether a language should be split by
// heading rather than by code-construct heuristics.
func IsProseLanguage(language string) bool {
	switch language {
	case "markdown", "restructuredtext", "text":
		return true
	default:
		return false
	}
}
