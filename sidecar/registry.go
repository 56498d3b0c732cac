package sidecar

import "fmt"

// Registry dispatches a file extension to the FormatParser that can
// decode it.
type Registry struct {
	parsers map[string]FormatParser
}

// NewRegistry registers the built-in native format parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]FormatParser)}
	for _, p := range []FormatParser{&PDFParser{}, &DOCXParser{}, &XLSXParser{}, &PPTXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser registered for format (a bare extension
// without the leading dot, e.g. "pdf").
func (r *Registry) Get(format string) (FormatParser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("sidecar: no parser for format %q", format)
	}
	return p, nil
}

// Formats returns every registered extension.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	return out
}
