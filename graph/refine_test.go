package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/llmc/llmc/llm"
	"github.com/llmc/llmc/lock"
	"github.com/llmc/llmc/parser"
	"github.com/llmc/llmc/store"
)

// fakeRefinementBackend serves one relation per call, chosen by the
// span in the prompt (Beta's span gets Beta->Gamma, every other span
// Alpha->Gamma), so the Alpha and Beta refinement goroutines each
// contribute a distinct relation to the merge session in any call order.
func fakeRefinementBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		relations := `{"relations":[{"source":"Alpha","target":"Gamma","relation_type":"calls","weight":0.8}]}`
		if strings.Contains(string(body), "func Beta()") {
			relations = `{"relations":[{"source":"Beta","target":"Gamma","relation_type":"calls","weight":0.7}]}`
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "fake",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": relations}, "finish_reason": "stop"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRefineFileMergesConcurrentRelationsThroughLockManager(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	srv := fakeRefinementBackend(t)

	router, err := llm.NewRouter(
		[]llm.BackendSpec{{Name: "refine", Provider: "ollama", Model: "fake", BaseURL: srv.URL}},
		map[string][]string{"code": {"refine"}},
		0,
	)
	if err != nil {
		t.Fatalf("llm.NewRouter: %v", err)
	}

	locks := lock.NewManager()
	b := NewBuilder(s, router, "code", 4, locks)

	fileID, err := s.UpsertFile(ctx, store.File{RepoRoot: "/repo", RelativePath: "widget.go", ContentHash: "h1"})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	content := `package foo

func Alpha() int { return 1 }

func Beta() int { return 2 }

func Gamma() int { return 3 }
`
	spans := []parser.Span{
		{StartLine: 3, EndLine: 3, Symbol: "Alpha", Kind: parser.KindCode, Language: "go", Text: "func Alpha() int { return 1 }"},
		{StartLine: 5, EndLine: 5, Symbol: "Beta", Kind: parser.KindCode, Language: "go", Text: "func Beta() int { return 2 }"},
		{StartLine: 7, EndLine: 7, Symbol: "Gamma", Kind: parser.KindCode, Language: "go", Text: "func Gamma() int { return 3 }"},
	}
	spanIDs, err := s.ReplaceSpans(ctx, fileID, []store.Span{
		{FileID: fileID, StartLine: 3, EndLine: 3, Symbol: "Alpha", ContentType: "code", Language: "go", RawText: spans[0].Text, SpanHash: store.SpanHash(spans[0].Text)},
		{FileID: fileID, StartLine: 5, EndLine: 5, Symbol: "Beta", ContentType: "code", Language: "go", RawText: spans[1].Text, SpanHash: store.SpanHash(spans[1].Text)},
		{FileID: fileID, StartLine: 7, EndLine: 7, Symbol: "Gamma", ContentType: "code", Language: "go", RawText: spans[2].Text, SpanHash: store.SpanHash(spans[2].Text)},
	})
	if err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}

	if err := b.BuildFile(ctx, fileID, "go", content, spans, spanIDs); err != nil {
		t.Fatalf("BuildFile: %v", err)
	}

	entities, err := s.SearchEntitiesByName(ctx, []string{"Alpha", "Beta", "Gamma"}, 10)
	if err != nil {
		t.Fatalf("SearchEntitiesByName: %v", err)
	}
	var gammaID int64
	for _, e := range entities {
		if e.Name == "Gamma" {
			gammaID = e.ID
		}
	}
	if gammaID == 0 {
		t.Fatal("Gamma entity not found")
	}

	related, err := s.GetRelatedEntities(ctx, []int64{gammaID}, 10)
	if err != nil {
		t.Fatalf("GetRelatedEntities: %v", err)
	}
	var foundAlpha, foundBeta bool
	for _, e := range related {
		switch e.Name {
		case "Alpha":
			foundAlpha = true
		case "Beta":
			foundBeta = true
		}
	}
	if !foundAlpha || !foundBeta {
		t.Fatalf("expected both Alpha->Gamma and Beta->Gamma refined relations to survive the merge, got related=%v", related)
	}

	// The merge session must release its MERGE_META lease once applied;
	// nothing should still be held once BuildFile returns.
	if leases := locks.Snapshot(); len(leases) != 0 {
		t.Errorf("expected no leases held after refinement finished, got %d", len(leases))
	}
}

func TestRefineFileFallsBackToDirectWritesWithoutLockManager(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	srv := fakeRefinementBackend(t)

	router, err := llm.NewRouter(
		[]llm.BackendSpec{{Name: "refine", Provider: "ollama", Model: "fake", BaseURL: srv.URL}},
		map[string][]string{"code": {"refine"}},
		0,
	)
	if err != nil {
		t.Fatalf("llm.NewRouter: %v", err)
	}

	b := NewBuilder(s, router, "code", 4, nil)

	fileID, err := s.UpsertFile(ctx, store.File{RepoRoot: "/repo", RelativePath: "widget2.go", ContentHash: "h2"})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	content := "package foo\n\nfunc Alpha() int { return 1 }\n\nfunc Gamma() int { return 3 }\n"
	spans := []parser.Span{
		{StartLine: 3, EndLine: 3, Symbol: "Alpha", Kind: parser.KindCode, Language: "go", Text: "func Alpha() int { return 1 }"},
		{StartLine: 5, EndLine: 5, Symbol: "Gamma", Kind: parser.KindCode, Language: "go", Text: "func Gamma() int { return 3 }"},
	}
	spanIDs, err := s.ReplaceSpans(ctx, fileID, []store.Span{
		{FileID: fileID, StartLine: 3, EndLine: 3, Symbol: "Alpha", ContentType: "code", Language: "go", RawText: spans[0].Text, SpanHash: store.SpanHash(spans[0].Text)},
		{FileID: fileID, StartLine: 5, EndLine: 5, Symbol: "Gamma", ContentType: "code", Language: "go", RawText: spans[1].Text, SpanHash: store.SpanHash(spans[1].Text)},
	})
	if err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}

	if err := b.BuildFile(ctx, fileID, "go", content, spans, spanIDs); err != nil {
		t.Fatalf("BuildFile: %v", err)
	}

	entities, err := s.SearchEntitiesByName(ctx, []string{"Alpha", "Gamma"}, 10)
	if err != nil {
		t.Fatalf("SearchEntitiesByName: %v", err)
	}
	var gammaID int64
	for _, e := range entities {
		if e.Name == "Gamma" {
			gammaID = e.ID
		}
	}
	if gammaID == 0 {
		t.Fatal("Gamma entity not found")
	}

	related, err := s.GetRelatedEntities(ctx, []int64{gammaID}, 10)
	if err != nil {
		t.Fatalf("GetRelatedEntities: %v", err)
	}
	var foundAlpha bool
	for _, e := range related {
		if e.Name == "Alpha" {
			foundAlpha = true
		}
	}
	if !foundAlpha {
		t.Fatal("expected Alpha->Gamma relation written directly when no lock manager is configured")
	}
}
