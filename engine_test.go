package llmc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// fakeBackend serves the subset of the Ollama/OpenAI-compatible API the
// engine exercises during tests: chat completions and batched embeddings.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "fake",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "a summary"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		embeddings := make([][]float64, len(req.Input))
		for i := range embeddings {
			embeddings[i] = []float64{0.1, 0.2, 0.3, 0.4}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embeddings})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, repoRoot string) Config {
	t.Helper()
	srv := fakeBackend(t)
	cfg := DefaultConfig()
	cfg.RepoRoot = repoRoot
	cfg.StorageDir = "local"
	cfg.DBPath = filepath.Join(t.TempDir(), "llmc.db")
	cfg.Backends = []BackendSpec{
		{Name: "local-chat", Provider: "ollama", Model: "fake-chat", BaseURL: srv.URL},
		{Name: "local-embed", Provider: "ollama", Model: "fake-embed", BaseURL: srv.URL},
	}
	cfg.EmbeddingProfiles = []EmbeddingProfile{{Name: "default", Backend: "local-embed", Dim: 4}}
	cfg.Search.EmbeddingProfile = "default"
	cfg.GraphConcurrency = 1
	return cfg
}

func writeRepoFile(t *testing.T, repoRoot, relPath, content string) string {
	t.Helper()
	abs := filepath.Join(repoRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return abs
}

func TestNewEngine(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer e.Close()

	if e.Store() == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewEngineInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	// RepoRoot left unset: Validate should reject this.
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing repo_root")
	}
}

const sampleGoSource = `package sample

// Greet returns a friendly greeting for name.
func Greet(name string) string {
	return "hello, " + name
}
`

func TestIndexFile(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer e.Close()

	abs := writeRepoFile(t, repoRoot, "sample.go", sampleGoSource)

	ctx := context.Background()
	fileID, changed, err := e.IndexFile(ctx, abs)
	if err != nil {
		t.Fatalf("indexing file: %v", err)
	}
	if fileID == 0 {
		t.Fatal("expected non-zero file id")
	}
	if !changed {
		t.Fatal("expected changed=true on first index")
	}

	spans, err := e.Store().GetSpansByFile(ctx, fileID)
	if err != nil {
		t.Fatalf("get spans: %v", err)
	}
	if len(spans) == 0 {
		t.Fatal("expected at least one span extracted from the file")
	}
}

func TestIndexFileSkipsUnchanged(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer e.Close()

	abs := writeRepoFile(t, repoRoot, "sample.go", sampleGoSource)

	ctx := context.Background()
	if _, _, err := e.IndexFile(ctx, abs); err != nil {
		t.Fatalf("first index: %v", err)
	}

	_, changed, err := e.IndexFile(ctx, abs)
	if err != nil {
		t.Fatalf("second index: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false when content hash is unchanged")
	}
}

func TestIndexFileReindexesOnChange(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer e.Close()

	abs := writeRepoFile(t, repoRoot, "sample.go", sampleGoSource)

	ctx := context.Background()
	if _, _, err := e.IndexFile(ctx, abs); err != nil {
		t.Fatalf("first index: %v", err)
	}

	writeRepoFile(t, repoRoot, "sample.go", sampleGoSource+"\nfunc Extra() {}\n")
	_, changed, err := e.IndexFile(ctx, abs)
	if err != nil {
		t.Fatalf("second index: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true after content modification")
	}
}

func TestRemoveFile(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer e.Close()

	abs := writeRepoFile(t, repoRoot, "sample.go", sampleGoSource)
	ctx := context.Background()
	fileID, _, err := e.IndexFile(ctx, abs)
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	if err := e.RemoveFile(ctx, abs); err != nil {
		t.Fatalf("remove: %v", err)
	}

	spans, err := e.Store().GetSpansByFile(ctx, fileID)
	if err != nil {
		t.Fatalf("get spans after remove: %v", err)
	}
	if len(spans) != 0 {
		t.Fatalf("expected spans gone after remove, got %d", len(spans))
	}
}

func TestRunEnrichmentCycle(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer e.Close()

	abs := writeRepoFile(t, repoRoot, "sample.go", sampleGoSource)
	ctx := context.Background()
	if _, _, err := e.IndexFile(ctx, abs); err != nil {
		t.Fatalf("index: %v", err)
	}

	didWork, err := e.RunEnrichmentCycle(ctx)
	if err != nil {
		t.Fatalf("enrichment cycle: %v", err)
	}
	if !didWork {
		t.Fatal("expected enrichment cycle to process the freshly indexed span")
	}
}

func TestRunEnrichmentCycleFallsThroughToDocgen(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)
	cfg.Docgen.Enabled = true
	cfg.Docgen.BackendName = "local-chat"
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer e.Close()

	abs := writeRepoFile(t, repoRoot, "sample.go", sampleGoSource)
	ctx := context.Background()
	if _, _, err := e.IndexFile(ctx, abs); err != nil {
		t.Fatalf("index: %v", err)
	}

	// Drain the primary enrichment queue first so the docgen tail
	// step is what actually fires on the next cycle.
	for {
		result, err := e.enricher.RunOnce(ctx, repoRoot, nil)
		if err != nil {
			t.Fatalf("draining enrichment: %v", err)
		}
		if result.Succeeded == 0 {
			break
		}
	}

	didWork, err := e.RunEnrichmentCycle(ctx)
	if err != nil {
		t.Fatalf("enrichment cycle: %v", err)
	}
	if !didWork {
		t.Fatal("expected docgen tail step to generate documentation")
	}

	doc, err := os.ReadFile(docPath(abs))
	if err != nil {
		t.Fatalf("reading generated doc: %v", err)
	}
	if len(doc) == 0 {
		t.Fatal("expected non-empty generated documentation")
	}
}
