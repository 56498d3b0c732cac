package parser

import "testing"

func TestProseExtractorHeadings(t *testing.T) {
	md := "# Title\n\nIntro text.\n\n## Usage\n\nDo the thing.\n"
	e := &ProseExtractor{Language: "markdown"}
	spans, err := e.Extract(md)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %+v", len(spans), spans)
	}
	if spans[0].Symbol != "Title" || spans[1].Symbol != "Usage" {
		t.Errorf("unexpected symbols: %q %q", spans[0].Symbol, spans[1].Symbol)
	}
}

func TestProseExtractorNoHeadings(t *testing.T) {
	e := &ProseExtractor{Language: "text"}
	spans, err := e.Extract("just some plain text\nwith two lines\n")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 whole-text span, got %d", len(spans))
	}
}

func TestProseExtractorEmpty(t *testing.T) {
	e := &ProseExtractor{Language: "text"}
	spans, err := e.Extract("")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(spans) != 0 {
		t.Errorf("expected 0 spans for empty content, got %d", len(spans))
	}
}
