package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/llmc/llmc/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "search_test.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	e := New(s, nil, Config{WeightVector: 1.0, WeightFTS: 1.0, WeightGraph: 1.0})
	return e, s
}

func TestSearchFindsSpanByFTS(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	fileID, err := s.UpsertFile(ctx, store.File{RepoRoot: "/repo", RelativePath: "parser.go", ContentHash: "h1"})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if _, err := s.ReplaceSpans(ctx, fileID, []store.Span{
		{FileID: fileID, StartLine: 1, EndLine: 5, Symbol: "ParseDocument", ContentType: "code",
			RawText: "func ParseDocument(src string) (*Node, error) { return parseInternal(src) }",
			SpanHash: store.SpanHash("ParseDocument")},
	}); err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}

	results, trace, err := e.Search(ctx, "ParseDocument", Options{MaxResults: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Symbol != "ParseDocument" {
		t.Errorf("expected ParseDocument, got %q", results[0].Symbol)
	}
	if !trace.IdentifiersDetected {
		t.Errorf("expected PascalCase query to be detected as an identifier")
	}
	if trace.FTSResults == 0 {
		t.Errorf("expected at least one FTS result")
	}
}

func TestSearchNoMatches(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	results, trace, err := e.Search(ctx, "nonexistent", Options{MaxResults: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
	if trace.FusedResults != 0 {
		t.Errorf("expected 0 fused results, got %d", trace.FusedResults)
	}
}

func TestFuseRRFCombinesAndRanks(t *testing.T) {
	vec := []store.RetrievalResult{{SpanID: 1}, {SpanID: 2}}
	fts := []store.RetrievalResult{{SpanID: 2}, {SpanID: 3}}

	fused, info := fuseRRF(vec, fts, nil, 1.0, 1.0, 1.0, 10)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}
	if fused[0].SpanID != 2 {
		t.Errorf("expected span 2 (present in both methods) to rank first, got %d", fused[0].SpanID)
	}
	if info[2].VecRank != 2 || info[2].FTSRank != 1 {
		t.Errorf("unexpected rank info for span 2: %+v", info[2])
	}
}
