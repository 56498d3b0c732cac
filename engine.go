package llmc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/llmc/llmc/daemon"
	"github.com/llmc/llmc/enrich"
	"github.com/llmc/llmc/graph"
	"github.com/llmc/llmc/llm"
	"github.com/llmc/llmc/lock"
	"github.com/llmc/llmc/parser"
	"github.com/llmc/llmc/queue"
	"github.com/llmc/llmc/scheduler"
	"github.com/llmc/llmc/search"
	"github.com/llmc/llmc/sidecar"
	"github.com/llmc/llmc/store"
)

// graphRouteKey is the routing key used for the optional LLM relation
// refinement pass — graph extraction is always code, regardless of
// the content type of the file it runs on.
const graphRouteKey = "code"

// Engine wires every subsystem — storage, parsing, sidecar conversion,
// graph extraction, the LLM router, the scheduler, the enrichment
// pipeline, the work queue, and hybrid search — into the single entry
// point a CLI or daemon process drives.
type Engine struct {
	cfg       Config
	store     *store.Store
	router    *llm.Router
	parsers   *parser.Registry
	converter *sidecar.Converter
	graphB    *graph.Builder
	sched     *scheduler.Scheduler
	enricher  *enrich.Pipeline
	queue     *queue.Queue
	notifier  *queue.Notifier
	locks     *lock.Manager
	search    *search.Engine
}

// New builds an Engine from cfg, opening its store and constructing
// every backend the router's routes reference. Construction never
// dials a backend — only Chat/Embed calls do — so a misreachable
// endpoint surfaces on first use, not here.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.resolveDBPath()
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ctx := context.Background()
	for _, p := range cfg.EmbeddingProfiles {
		if err := s.EnsureEmbeddingProfile(ctx, p.Name, p.Dim); err != nil {
			s.Close()
			return nil, fmt.Errorf("ensuring embedding profile %q: %w", p.Name, err)
		}
	}

	specs := make([]llm.BackendSpec, len(cfg.Backends))
	for i, b := range cfg.Backends {
		specs[i] = llm.BackendSpec{
			Name: b.Name, Provider: b.Provider, Model: b.Model,
			BaseURL: b.BaseURL, APIKey: b.APIKey,
			RPS: b.RPS, Burst: b.Burst, CostPer1K: b.CostUSD,
		}
	}
	router, err := llm.NewRouter(specs, cfg.Routes, 0)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("building backend router: %w", err)
	}

	sched := scheduler.New(s, cfg.Scheduler.PathWeights, cfg.Scheduler.MaxStarvationRatio, cfg.Scheduler.BatchSize).
		WithMaxFailuresPerSpan(cfg.Scheduler.MaxFailuresPerSpan)

	locks := lock.NewManager().WithFileGuard(filepath.Join(workspaceDir(cfg.RepoRoot), "locks"))

	e := &Engine{
		cfg:       cfg,
		store:     s,
		router:    router,
		parsers:   parser.NewRegistry(),
		converter: sidecar.NewConverter(),
		graphB:    graph.NewBuilder(s, router, graphRouteKey, cfg.GraphConcurrency, locks),
		sched:     sched,
		enricher:  enrich.New(s, sched, router, 0),
		queue:     queue.New(s),
		notifier:  queue.NewNotifier(filepath.Join(workspaceDir(cfg.RepoRoot), "notify.fifo"), 2*time.Second),
		locks:     locks,
		search: search.New(s, router, search.Config{
			WeightVector:     cfg.Search.WeightVector,
			WeightFTS:        cfg.Search.WeightFTS,
			WeightGraph:      cfg.Search.WeightGraph,
			EmbeddingProfile: cfg.Search.EmbeddingProfile,
			EmbedRouteKey:    cfg.Search.EmbedRouteKey,
		}),
	}
	return e, nil
}

// workspaceDir returns the hidden per-repository workspace directory
// that holds the queue notification FIFO and the on-disk lock files.
// Sidecar twins are not kept here; they are written next to their
// source documents.
func workspaceDir(repoRoot string) string {
	return filepath.Join(repoRoot, ".llmc")
}

// Store exposes the underlying store for diagnostic and CLI access.
func (e *Engine) Store() *store.Store { return e.store }

// Search runs hybrid retrieval over the repository's spans.
func (e *Engine) Search(ctx context.Context, query string, opts search.Options) ([]store.RetrievalResult, *search.Trace, error) {
	return e.search.Search(ctx, query, opts)
}

// Close shuts down the engine and its store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// IndexFile parses or converts a single file and reconciles its spans
// against the store, queueing every span for enrichment. It is a
// no-op (returns changed=false) when the file's content hash matches
// the last indexed version.
func (e *Engine) IndexFile(ctx context.Context, absPath string) (fileID int64, changed bool, err error) {
	relPath, err := filepath.Rel(e.cfg.RepoRoot, absPath)
	if err != nil {
		return 0, false, fmt.Errorf("resolving relative path: %w", err)
	}

	release, err := e.acquireCode(ctx, relPath)
	if err != nil {
		return 0, false, err
	}
	defer release()
	rel := relPath

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(absPath), "."))
	sidecarEligible := e.sidecarEligible(ext)

	var content string
	var sidecarPath string
	var language string

	if sidecarEligible {
		hash, existing, herr := e.previousSidecarHash(ctx, relPath)
		if herr != nil {
			return 0, false, herr
		}
		result, cerr := e.converter.Convert(ctx, absPath, hash)
		if cerr != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrParsingFailed, cerr)
		}
		if result.Skipped && existing != nil {
			return existing.ID, false, nil
		}
		md, rerr := sidecar.ReadMarkdown(result.SidecarPath)
		if rerr != nil {
			return 0, false, fmt.Errorf("reading sidecar markdown: %w", rerr)
		}
		content = md
		sidecarPath = result.SidecarPath
		language = "markdown"
	} else {
		raw, rerr := os.ReadFile(absPath)
		if rerr != nil {
			return 0, false, fmt.Errorf("reading file: %w", rerr)
		}
		content = string(raw)
		language = parser.DetectLanguage(absPath)
	}

	contentHash := hashString(content)

	existing, err := e.store.GetFileByPath(ctx, e.cfg.RepoRoot, rel)
	if err == nil && existing.ContentHash == contentHash {
		return existing.ID, false, nil
	}

	fid, err := e.store.UpsertFile(ctx, store.File{
		RepoRoot:     e.cfg.RepoRoot,
		RelativePath: rel,
		ContentHash:  contentHash,
		ContentType:  contentTypeFor(language, sidecarEligible),
		Language:     language,
		SidecarPath:  sidecarPath,
		Mtime:        time.Now(),
	})
	if err != nil {
		return 0, false, fmt.Errorf("upserting file: %w", err)
	}

	slog.Info("index: parsing file", "path", rel, "language", language, "file_id", fid)
	parseStart := time.Now()

	parsed := e.parsers.ExtractFile(absPath, content)
	spans := make([]store.Span, len(parsed))
	for i, sp := range parsed {
		spans[i] = store.Span{
			FileID: fid, StartLine: sp.StartLine, EndLine: sp.EndLine,
			Symbol: sp.Symbol, ContentType: string(sp.Kind), Language: sp.Language,
			RawText: sp.Text, SpanHash: store.SpanHash(spanIdentity(contentHash, sp)),
		}
	}

	spanIDs, err := e.store.ReplaceSpans(ctx, fid, spans)
	if err != nil {
		return 0, false, fmt.Errorf("reconciling spans: %w", err)
	}
	slog.Info("index: spans reconciled", "path", rel, "count", len(spanIDs),
		"elapsed", time.Since(parseStart).Round(time.Millisecond))

	if err := e.graphB.BuildFile(ctx, fid, language, content, parsed, spanIDs); err != nil {
		slog.Warn("index: graph build had errors (non-fatal)", "path", rel, "error", err)
	}

	for i, sp := range spans {
		if err := e.queue.Push(ctx, e.cfg.RepoRoot, spanIDs[i], sp.SpanHash, defaultPriority(sp)); err != nil {
			slog.Warn("index: queueing span failed", "path", rel, "span_id", spanIDs[i], "error", err)
			continue
		}
	}
	e.notifier.Signal()

	slog.Info("index: file ready", "path", rel, "file_id", fid,
		"total_elapsed", time.Since(parseStart).Round(time.Millisecond))
	return fid, true, nil
}

// RemoveFile deletes a file and, by cascade, its spans, enrichments,
// embeddings, and graph entries, along with any sidecar twin.
func (e *Engine) RemoveFile(ctx context.Context, absPath string) error {
	relPath, err := filepath.Rel(e.cfg.RepoRoot, absPath)
	if err != nil {
		return fmt.Errorf("resolving relative path: %w", err)
	}

	f, err := e.store.GetFileByPath(ctx, e.cfg.RepoRoot, relPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, relPath)
	}
	if f.SidecarPath != "" {
		_ = os.Remove(f.SidecarPath)
	}
	return e.store.DeleteFile(ctx, f.ID)
}

// RunEnrichmentCycle runs one pass over a repository: it drains the
// scheduler's pending batch through the enrichment pipeline and
// reports whether it did any work, for use as a daemon.CycleFunc (see
// process_repo in the daemon loop).
func (e *Engine) RunEnrichmentCycle(ctx context.Context) (bool, error) {
	result, err := e.enricher.RunOnce(ctx, e.cfg.RepoRoot, nil)
	if err != nil {
		return false, err
	}
	if result.Succeeded > 0 {
		return true, nil
	}

	if e.cfg.Docgen.Enabled {
		wrote, derr := e.runDocgenTailStep(ctx)
		if derr != nil {
			slog.Warn("docgen: tail step failed (non-fatal)", "error", derr)
		}
		return wrote, nil
	}
	return false, nil
}

// NewDaemonLoop builds an idle-throttled daemon.Loop driven by
// RunEnrichmentCycle and a filesystem watcher over cfg.Daemon's
// configured paths.
func (e *Engine) NewDaemonLoop() (*daemon.Loop, error) {
	var w *daemon.Watcher
	if len(e.cfg.Daemon.WatchPaths) > 0 {
		var err error
		w, err = daemon.NewWatcher(e.cfg.Daemon.WatchPaths, e.cfg.Daemon.IgnoreGlobs)
		if err != nil {
			return nil, fmt.Errorf("starting watcher: %w", err)
		}
	}
	dcfg := daemon.Config{
		BaseInterval:  e.cfg.Daemon.BaseInterval,
		MaxMultiplier: e.cfg.Daemon.MaxMultiplier,
		Nice:          e.cfg.Daemon.Nice,
		ShutdownBound: e.cfg.Daemon.ShutdownBound,
	}
	return daemon.New(dcfg, e.RunEnrichmentCycle, w), nil
}

// docHashHeaderPrefix starts the first line of a generated documentation
// file; the rest of that line records the source hash it was generated
// from, so a later pass can tell a stale doc from a current one without
// re-generating it.
const docHashHeaderPrefix = "<!-- llmc-docgen: sha256:"

// docPath derives the generated-documentation sibling path for a
// source file, mirroring sidecar.SidecarPath's "append, don't
// replace" naming so a doc never collides with the source it's for.
func docPath(sourcePath string) string {
	return sourcePath + ".llmc.md"
}

// runDocgenTailStep implements the opportunistic documentation pass:
// it only ever runs when the primary enrichment pipeline did no work
// this cycle, samples a handful of indexed files at random, and
// regenerates at most one whose documentation is missing or stale.
// Candidate selection is stateless (a fresh random sample each call)
// rather than a cursor, so a crash mid-cycle loses nothing.
func (e *Engine) runDocgenTailStep(ctx context.Context) (bool, error) {
	_, release, err := e.locks.Acquire(ctx, lock.Resource{Class: lock.IdempDocs, Key: e.cfg.RepoRoot}, "engine-docgen", e.cfg.Lock.IdempDocsTTL)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLeaseDenied, err)
	}
	defer release()

	candidates, err := e.store.SampleFiles(ctx, e.cfg.RepoRoot, 10)
	if err != nil {
		return false, fmt.Errorf("sampling files: %w", err)
	}

	for _, f := range candidates {
		absPath := filepath.Join(e.cfg.RepoRoot, f.RelativePath)
		stale, err := isDocStale(absPath, f.ContentHash)
		if err != nil {
			slog.Warn("docgen: checking staleness failed", "path", f.RelativePath, "error", err)
			continue
		}
		if !stale {
			continue
		}
		if err := e.generateDoc(ctx, f); err != nil {
			slog.Warn("docgen: generation failed", "path", f.RelativePath, "error", err)
			continue
		}
		slog.Info("docgen: regenerated documentation", "path", f.RelativePath)
		return true, nil
	}
	return false, nil
}

func isDocStale(sourcePath, contentHash string) (bool, error) {
	existing, err := os.ReadFile(docPath(sourcePath))
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	firstLine := string(existing)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	return firstLine != docHashHeaderPrefix+contentHash+" -->", nil
}

func (e *Engine) generateDoc(ctx context.Context, f store.File) error {
	provider, ok := e.router.Provider(e.cfg.Docgen.BackendName)
	if !ok {
		return fmt.Errorf("%w: docgen backend %q not configured", ErrBackendUnavailable, e.cfg.Docgen.BackendName)
	}

	spans, err := e.store.GetSpansByFile(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("loading spans: %w", err)
	}
	var body strings.Builder
	for _, sp := range spans {
		body.WriteString(sp.RawText)
		body.WriteString("\n\n")
	}

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Write concise developer documentation for the given source file. Describe its purpose and public surface; do not restate the code line by line."},
			{Role: "user", Content: fmt.Sprintf("File: %s\n\n%s", f.RelativePath, body.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("generating documentation: %w", err)
	}

	out := docHashHeaderPrefix + f.ContentHash + " -->\n\n" + resp.Content + "\n"
	return writeAtomic(docPath(filepath.Join(f.RepoRoot, f.RelativePath)), []byte(out))
}

// writeAtomic writes data to path via a temp file plus rename so a
// reader never observes a partially written document, the same
// discipline sidecar.Convert uses for its gzipped twins.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".docgen-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (e *Engine) acquireCode(ctx context.Context, relPath string) (lock.Release, error) {
	res := lock.Resource{Class: lock.CritCode, Key: relPath}
	_, release, err := e.locks.Acquire(ctx, res, "engine", e.cfg.Lock.CritCodeTTL)
	if err != nil {
		return func() {}, fmt.Errorf("%w: %v", ErrLeaseDenied, err)
	}
	return release, nil
}

func (e *Engine) sidecarEligible(ext string) bool {
	if !e.cfg.Sidecar.Enabled {
		return false
	}
	for _, allowed := range e.cfg.Sidecar.Extensions {
		if strings.TrimPrefix(allowed, ".") == ext {
			return true
		}
	}
	return false
}

func (e *Engine) previousSidecarHash(ctx context.Context, relPath string) (string, *store.File, error) {
	f, err := e.store.GetFileByPath(ctx, e.cfg.RepoRoot, relPath)
	if err != nil {
		return "", nil, nil
	}
	return f.ContentHash, f, nil
}

func contentTypeFor(language string, isSidecarDoc bool) string {
	switch {
	case isSidecarDoc:
		return "docs"
	case parser.IsProseLanguage(language):
		return "docs"
	case language != "":
		return "code"
	default:
		return "other"
	}
}

// spanIdentity combines the owning file's content hash with a span's
// position and text so that two spans with identical text at
// different locations in different file versions never collide, per
// the span-hash invariant in spec.md §3.
func spanIdentity(fileContentHash string, sp parser.Span) string {
	return fmt.Sprintf("%s:%d:%d:%s", fileContentHash, sp.StartLine, sp.EndLine, sp.Text)
}

// defaultPriority seeds a span's initial queue priority: code ranks
// above prose, consistent with the scheduler's base(content_type)
// weighting (see scheduler/scheduler.go and spec.md §4.2).
func defaultPriority(sp store.Span) float64 {
	if sp.ContentType == "code" {
		return 1.0
	}
	return 0.5
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
