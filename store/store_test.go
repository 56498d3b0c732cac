//go:build cgo

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// File CRUD
// ---------------------------------------------------------------------------

func sampleFile(relPath string) File {
	return File{
		RepoRoot:     "/repo",
		RelativePath: relPath,
		ContentHash:  "abc123",
		ContentType:  "code",
		Language:     "go",
		Mtime:        time.Now(),
	}
}

func TestUpsertAndGetFileByPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := sampleFile("pkg/parser.go")
	id, err := s.UpsertFile(ctx, f)
	if err != nil {
		t.Fatalf("upserting file: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero file id")
	}

	got, err := s.GetFileByPath(ctx, "/repo", "pkg/parser.go")
	if err != nil {
		t.Fatalf("getting file by path: %v", err)
	}
	if got.RelativePath != f.RelativePath {
		t.Errorf("relative_path: got %q, want %q", got.RelativePath, f.RelativePath)
	}
	if got.Language != "go" {
		t.Errorf("language: got %q, want %q", got.Language, "go")
	}
	if got.ContentHash != "abc123" {
		t.Errorf("content_hash: got %q, want %q", got.ContentHash, "abc123")
	}
}

func TestGetFileByPathNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetFileByPath(ctx, "/repo", "nonexistent.go")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpsertFileUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := sampleFile("pkg/update.go")
	id1, err := s.UpsertFile(ctx, f)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	f.ContentHash = "def456"
	id2, err := s.UpsertFile(ctx, f)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("upsert returned different id: %d vs %d", id2, id1)
	}

	got, err := s.GetFileByPath(ctx, "/repo", "pkg/update.go")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.ContentHash != "def456" {
		t.Errorf("content_hash not updated: got %q", got.ContentHash)
	}
}

func TestListFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, p := range []string{"a.go", "b.go", "c.go"} {
		f := sampleFile(p)
		if _, err := s.UpsertFile(ctx, f); err != nil {
			t.Fatalf("insert file %d: %v", i, err)
		}
	}

	files, err := s.ListFiles(ctx, "/repo")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
}

func TestDeleteFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, sampleFile("delete.go"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 3, Symbol: "Foo", ContentType: "code", RawText: "func Foo() {}", SpanHash: SpanHash("foo")},
	}); err != nil {
		t.Fatalf("replace spans: %v", err)
	}

	if err := s.DeleteFile(ctx, fileID); err != nil {
		t.Fatalf("delete file: %v", err)
	}

	_, err = s.GetFileByPath(ctx, "/repo", "delete.go")
	if err != sql.ErrNoRows {
		t.Fatalf("expected file gone, got err=%v", err)
	}

	remaining, err := s.GetSpansByFile(ctx, fileID)
	if err != nil {
		t.Fatalf("get spans after delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected 0 spans after cascade, got %d", len(remaining))
	}
}

// ---------------------------------------------------------------------------
// Span reconciliation (ReplaceSpans)
// ---------------------------------------------------------------------------

func TestReplaceSpansInsertsAndReturnsIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, sampleFile("spans.go"))
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}

	spans := []Span{
		{FileID: fileID, StartLine: 1, EndLine: 5, Symbol: "First", ContentType: "code", RawText: "func First() {}", SpanHash: SpanHash("first")},
		{FileID: fileID, StartLine: 7, EndLine: 10, Symbol: "Second", ContentType: "code", RawText: "func Second() {}", SpanHash: SpanHash("second")},
	}

	ids, err := s.ReplaceSpans(ctx, fileID, spans)
	if err != nil {
		t.Fatalf("replace spans: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	got, err := s.GetSpansByFile(ctx, fileID)
	if err != nil {
		t.Fatalf("get spans: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(got))
	}
}

func TestReplaceSpansReconcilesUnchangedAndRemoved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, sampleFile("reconcile.go"))
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}

	firstIDs, err := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 5, Symbol: "Keep", ContentType: "code", RawText: "func Keep() {}", SpanHash: SpanHash("keep")},
		{FileID: fileID, StartLine: 7, EndLine: 10, Symbol: "Drop", ContentType: "code", RawText: "func Drop() {}", SpanHash: SpanHash("drop")},
	})
	if err != nil {
		t.Fatalf("initial replace: %v", err)
	}

	// Second pass: "Keep" survives at a shifted line range (unchanged hash),
	// "Drop" is gone, and a new span appears.
	secondIDs, err := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 2, EndLine: 6, Symbol: "Keep", ContentType: "code", RawText: "func Keep() {}", SpanHash: SpanHash("keep")},
		{FileID: fileID, StartLine: 12, EndLine: 14, Symbol: "New", ContentType: "code", RawText: "func New() {}", SpanHash: SpanHash("new")},
	})
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if secondIDs[0] != firstIDs[0] {
		t.Errorf("expected unchanged span to keep its id: got %d, want %d", secondIDs[0], firstIDs[0])
	}

	got, err := s.GetSpansByFile(ctx, fileID)
	if err != nil {
		t.Fatalf("get spans: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 spans after reconcile, got %d", len(got))
	}
	for _, sp := range got {
		if sp.Symbol == "Drop" {
			t.Error("expected removed span 'Drop' to be gone")
		}
		if sp.Symbol == "Keep" && sp.StartLine != 2 {
			t.Errorf("expected 'Keep' line to be updated to 2, got %d", sp.StartLine)
		}
	}
}

// ---------------------------------------------------------------------------
// Embedding / vector search
// ---------------------------------------------------------------------------

func TestInsertEmbeddingAndVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureEmbeddingProfile(ctx, "default", 4); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}

	fileID, err := s.UpsertFile(ctx, sampleFile("vec.go"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ids, err := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 2, Symbol: "Alpha", ContentType: "code", RawText: "alpha content", SpanHash: SpanHash("alpha")},
		{FileID: fileID, StartLine: 3, EndLine: 4, Symbol: "Beta", ContentType: "code", RawText: "beta content", SpanHash: SpanHash("beta")},
	})
	if err != nil {
		t.Fatalf("replace spans: %v", err)
	}

	if err := s.InsertEmbedding(ctx, "default", ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("embedding 0: %v", err)
	}
	if err := s.InsertEmbedding(ctx, "default", ids[1], []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("embedding 1: %v", err)
	}

	results, err := s.VectorSearch(ctx, "default", []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Symbol != "Alpha" {
		t.Errorf("expected nearest to be 'Alpha', got %q", results[0].Symbol)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected first result score (%f) > second (%f)", results[0].Score, results[1].Score)
	}
}

func TestVectorSearchTopK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureEmbeddingProfile(ctx, "default", 4); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}

	fileID, _ := s.UpsertFile(ctx, sampleFile("topk.go"))
	ids, _ := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 1, Symbol: "C1", ContentType: "code", RawText: "c1", SpanHash: SpanHash("c1")},
		{FileID: fileID, StartLine: 2, EndLine: 2, Symbol: "C2", ContentType: "code", RawText: "c2", SpanHash: SpanHash("c2")},
		{FileID: fileID, StartLine: 3, EndLine: 3, Symbol: "C3", ContentType: "code", RawText: "c3", SpanHash: SpanHash("c3")},
	})

	_ = s.InsertEmbedding(ctx, "default", ids[0], []float32{1, 0, 0, 0})
	_ = s.InsertEmbedding(ctx, "default", ids[1], []float32{0, 1, 0, 0})
	_ = s.InsertEmbedding(ctx, "default", ids[2], []float32{0, 0, 1, 0})

	results, err := s.VectorSearch(ctx, "default", []float32{0, 0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("vector search k=1: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Symbol != "C3" {
		t.Errorf("expected C3, got %q", results[0].Symbol)
	}
}

// ---------------------------------------------------------------------------
// FTS search
// ---------------------------------------------------------------------------

func TestFTSSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, sampleFile("fts.go"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 3, Symbol: "ParseDocument", ContentType: "code",
			RawText: "func ParseDocument(src string) (*Node, error) { return parseInternal(src) }", SpanHash: SpanHash("parsedoc")},
		{FileID: fileID, StartLine: 5, EndLine: 8, Symbol: "RenderMarkdown", ContentType: "code",
			RawText: "func RenderMarkdown(n *Node) string { return renderInternal(n) }", SpanHash: SpanHash("rendermd")},
	}); err != nil {
		t.Fatalf("replace spans: %v", err)
	}

	results, err := s.FTSSearch(ctx, "ParseDocument", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one FTS result")
	}
	if results[0].Symbol != "ParseDocument" {
		t.Errorf("top FTS result: got %q", results[0].Symbol)
	}
	if results[0].Score <= 0 {
		t.Errorf("expected positive score, got %f", results[0].Score)
	}
}

func TestFTSSearchNoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, _ := s.UpsertFile(ctx, sampleFile("fts2.go"))
	s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 1, Symbol: "Hello", ContentType: "code", RawText: "hello world", SpanHash: SpanHash("hello")},
	})

	results, err := s.FTSSearch(ctx, "zzzyyyxxx", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results for nonsense query, got %d", len(results))
	}
}

// ---------------------------------------------------------------------------
// Enrichment
// ---------------------------------------------------------------------------

func TestUpsertAndGetEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, _ := s.UpsertFile(ctx, sampleFile("enrich.go"))
	ids, _ := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 2, Symbol: "Foo", ContentType: "code", RawText: "func Foo() {}", SpanHash: SpanHash("foo")},
	})

	e := Enrichment{SpanID: ids[0], Summary: "Does foo things", Model: "qwen2.5-coder:7b", Chain: "local-chat", Backend: "local-chat", Attempts: 1, DurationMS: 120}
	if err := s.UpsertEnrichment(ctx, e); err != nil {
		t.Fatalf("upsert enrichment: %v", err)
	}

	got, err := s.GetEnrichment(ctx, ids[0])
	if err != nil {
		t.Fatalf("get enrichment: %v", err)
	}
	if got.Summary != "Does foo things" {
		t.Errorf("summary: got %q", got.Summary)
	}
}

func TestRecordAndGetEnrichmentFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, _ := s.UpsertFile(ctx, sampleFile("failure.go"))
	ids, _ := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 2, Symbol: "Bar", ContentType: "code", RawText: "func Bar() {}", SpanHash: SpanHash("bar")},
	})

	if err := s.RecordEnrichmentFailure(ctx, ids[0], "backend unavailable"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := s.RecordEnrichmentFailure(ctx, ids[0], "backend unavailable"); err != nil {
		t.Fatalf("record second failure: %v", err)
	}

	got, err := s.GetEnrichmentFailure(ctx, ids[0])
	if err != nil {
		t.Fatalf("get failure: %v", err)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts: got %d, want 2", got.Attempts)
	}
	if got.LastError != "backend unavailable" {
		t.Errorf("last_error: got %q", got.LastError)
	}
}

func TestSampleSpansNeedingEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, _ := s.UpsertFile(ctx, sampleFile("sample.go"))
	ids, _ := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 2, Symbol: "NeedsWork", ContentType: "code", RawText: "func NeedsWork() {}", SpanHash: SpanHash("needswork")},
		{FileID: fileID, StartLine: 3, EndLine: 4, Symbol: "AlreadyDone", ContentType: "code", RawText: "func AlreadyDone() {}", SpanHash: SpanHash("alreadydone")},
	})

	if err := s.UpsertEnrichment(ctx, Enrichment{SpanID: ids[1], Summary: "done"}); err != nil {
		t.Fatalf("upsert enrichment: %v", err)
	}

	spans, err := s.SampleSpansNeedingEnrichment(ctx, "/repo", 10, time.Now(), 3, "")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 span needing enrichment, got %d", len(spans))
	}
	if spans[0].Symbol != "NeedsWork" {
		t.Errorf("expected NeedsWork, got %q", spans[0].Symbol)
	}
	if spans[0].RelativePath != "sample.go" {
		t.Errorf("expected relative path sample.go, got %q", spans[0].RelativePath)
	}
}

// TestSampleSpansNeedingEnrichmentFailureThreshold verifies that a span
// below maxFailuresPerSpan stays eligible immediately, while one at or
// past the threshold is held back until cooldownUntil passes.
func TestSampleSpansNeedingEnrichmentFailureThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, _ := s.UpsertFile(ctx, sampleFile("flaky.go"))
	ids, _ := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 2, Symbol: "FlakyOnce", ContentType: "code", RawText: "func FlakyOnce() {}", SpanHash: SpanHash("flakyonce")},
		{FileID: fileID, StartLine: 3, EndLine: 4, Symbol: "FlakyThrice", ContentType: "code", RawText: "func FlakyThrice() {}", SpanHash: SpanHash("flakythrice")},
	})

	if err := s.RecordEnrichmentFailure(ctx, ids[0], "transient"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordEnrichmentFailure(ctx, ids[1], "transient"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	// cooldownUntil in the past: a span below threshold is still
	// eligible; a span at/past threshold is held back.
	spans, err := s.SampleSpansNeedingEnrichment(ctx, "/repo", 10, time.Now().Add(-time.Hour), 3, "")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(spans) != 1 || spans[0].Symbol != "FlakyOnce" {
		t.Fatalf("expected only FlakyOnce eligible, got %+v", spans)
	}

	// cooldownUntil in the future: the threshold span's last attempt
	// now falls before cooldownUntil, so it becomes eligible again.
	spans, err = s.SampleSpansNeedingEnrichment(ctx, "/repo", 10, time.Now().Add(time.Hour), 3, "")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected both spans eligible once cooldown passed, got %d", len(spans))
	}
}

// ---------------------------------------------------------------------------
// Graph entities / relations
// ---------------------------------------------------------------------------

func TestUpsertGraphEntityAndSearchByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, _ := s.UpsertFile(ctx, sampleFile("entities.go"))

	id1, err := s.UpsertGraphEntity(ctx, GraphEntity{FileID: fileID, Name: "Parser", EntityType: "type", Language: "go"})
	if err != nil {
		t.Fatalf("upsert entity 1: %v", err)
	}
	id2, err := s.UpsertGraphEntity(ctx, GraphEntity{FileID: fileID, Name: "Tokenizer", EntityType: "type", Language: "go"})
	if err != nil {
		t.Fatalf("upsert entity 2: %v", err)
	}
	if id1 == 0 || id2 == 0 {
		t.Fatal("expected non-zero entity ids")
	}

	entities, err := s.SearchEntitiesByName(ctx, []string{"parser"}, 10)
	if err != nil {
		t.Fatalf("search by name: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "Parser" {
		t.Fatalf("expected to find Parser, got %+v", entities)
	}
}

func TestInsertGraphRelationAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, _ := s.UpsertFile(ctx, sampleFile("graph.go"))
	spanIDs, _ := s.ReplaceSpans(ctx, fileID, []Span{
		{FileID: fileID, StartLine: 1, EndLine: 3, Symbol: "Caller", ContentType: "code", RawText: "func Caller() { Callee() }", SpanHash: SpanHash("caller")},
	})

	callerID, err := s.UpsertGraphEntity(ctx, GraphEntity{FileID: fileID, SpanID: sql.NullInt64{Int64: spanIDs[0], Valid: true}, Name: "Caller", EntityType: "function", Language: "go"})
	if err != nil {
		t.Fatalf("upsert caller: %v", err)
	}
	calleeID, err := s.UpsertGraphEntity(ctx, GraphEntity{FileID: fileID, Name: "Callee", EntityType: "function", Language: "go"})
	if err != nil {
		t.Fatalf("upsert callee: %v", err)
	}

	relID, err := s.InsertGraphRelation(ctx, GraphRelation{SourceEntityID: callerID, TargetEntityID: calleeID, RelationType: "calls", Weight: 1.0})
	if err != nil {
		t.Fatalf("insert relation: %v", err)
	}
	if relID == 0 {
		t.Fatal("expected non-zero relation id")
	}

	results, err := s.GraphSearch(ctx, []int64{callerID}, 10)
	if err != nil {
		t.Fatalf("graph search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one graph search result")
	}

	related, err := s.GetRelatedEntities(ctx, []int64{callerID}, 10)
	if err != nil {
		t.Fatalf("get related entities: %v", err)
	}
	found := false
	for _, e := range related {
		if e.Name == "Callee" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Callee among related entities, got %+v", related)
	}
}

// ---------------------------------------------------------------------------
// Random file sampling (docgen candidate selection)
// ---------------------------------------------------------------------------

func TestSampleFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"a.go", "b.go", "c.go"} {
		if _, err := s.UpsertFile(ctx, sampleFile(p)); err != nil {
			t.Fatalf("upsert %s: %v", p, err)
		}
	}

	files, err := s.SampleFiles(ctx, "/repo", 2)
	if err != nil {
		t.Fatalf("sample files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 sampled files, got %d", len(files))
	}
}

func TestSampleFilesMoreThanAvailable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertFile(ctx, sampleFile("only.go")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	files, err := s.SampleFiles(ctx, "/repo", 10)
	if err != nil {
		t.Fatalf("sample files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
}
