// Package sidecar converts binary document formats (PDF, DOCX, PPTX)
// into gzipped markdown twins that sit next to the original file, so
// the code-aware span parser only ever has to read plain text. A
// sidecar is regenerated only when the source file's content hash
// changes, and an orphan sweep removes sidecars whose source file is
// gone.
package sidecar

import "context"

// ExtractedImage represents an image extracted from a document during
// parsing. Sidecar conversion does not currently render images into
// the markdown twin; the field is retained because several parsers
// already extract them and a caller may want to inspect page media
// without reaching into the PDF again.
type ExtractedImage struct {
	Data         []byte
	MIMEType     string
	PageNumber   int
	SectionIndex int
	Width        int
	Height       int
}

// ParseResult is what a format parser produces from a document file.
type ParseResult struct {
	Sections []Section
	Images   []ExtractedImage
	Method   string
	Metadata map[string]string
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int
	PageNumber int
	Type       string
	Children   []Section
	Metadata   map[string]string
}

// FormatParser decodes one binary document format into a ParseResult.
type FormatParser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
