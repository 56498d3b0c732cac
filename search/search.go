// Package search performs hybrid span retrieval: vector similarity,
// FTS5 full text, and code-graph traversal run concurrently and are
// combined with Reciprocal Rank Fusion. It is grounded on
// retrieval/retrieval.go and retrieval/rrf.go, generalized from
// document-chunk retrieval (with cross-language term translation and
// entity name matching against free-text nouns) to code-span
// retrieval (with identifier-aware query routing and BFS graph
// expansion over call/extends/imports relations instead of document
// entity co-occurrence).
package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/llmc/llmc/graph"
	"github.com/llmc/llmc/llm"
	"github.com/llmc/llmc/store"
)

// identifierPatterns flags queries that look like they're naming a
// specific symbol (an exact identifier, a qualified path, an error
// code) rather than describing one in prose. Such queries should
// prefer exact-match FTS over semantic vector similarity.
var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_.]*`), // pkg.Symbol, a.b.c
	regexp.MustCompile(`\b[a-z]+[A-Z][A-Za-z0-9]*\b`),                     // camelCase
	regexp.MustCompile(`\b[A-Z][a-z0-9]+[A-Z][A-Za-z0-9]*\b`),             // PascalCase
	regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`),                          // CONSTANT_NAME
	regexp.MustCompile(`\berr[A-Za-z0-9_]*\b`),                            // err / Err identifiers
}

func detectIdentifiers(query string) bool {
	for _, p := range identifierPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

var queryTermPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func extractQueryTerms(query string) []string {
	raw := queryTermPattern.FindAllString(query, -1)
	seen := make(map[string]bool, len(raw))
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		lower := strings.ToLower(t)
		if seen[lower] || len(lower) < 2 {
			continue
		}
		seen[lower] = true
		terms = append(terms, lower)
	}
	return terms
}

// Config holds default weights and routing for hybrid search.
type Config struct {
	WeightVector     float64
	WeightFTS        float64
	WeightGraph      float64
	EmbeddingProfile string
	EmbedRouteKey    string
	GraphMaxDepth    int
}

// Options configures a single search call, overriding Config's
// defaults where non-zero.
type Options struct {
	MaxResults  int
	WeightVec   float64
	WeightFTS   float64
	WeightGraph float64
}

// Trace records the breakdown of a hybrid search for diagnostics.
type Trace struct {
	VecResults          int                  `json:"vec_results"`
	FTSResults          int                  `json:"fts_results"`
	GraphResults        int                  `json:"graph_results"`
	FusedResults        int                  `json:"fused_results"`
	VecWeight           float64              `json:"vec_weight"`
	FTSWeight           float64              `json:"fts_weight"`
	GraphWeight         float64              `json:"graph_weight"`
	IdentifiersDetected bool                 `json:"identifiers_detected"`
	MaxRequested        int                  `json:"max_requested"`
	QueryTerms          []string             `json:"query_terms"`
	ElapsedMs           int64                `json:"elapsed_ms"`
	PerResult           map[int64]MethodInfo `json:"per_result,omitempty"`
}

// Engine performs hybrid retrieval combining vector, FTS, and graph
// search over the span store.
type Engine struct {
	store  *store.Store
	router *llm.Router
	cfg    Config
}

// New builds a search Engine. router may be nil to disable vector
// search (the engine then fuses FTS and graph results only).
func New(s *store.Store, router *llm.Router, cfg Config) *Engine {
	if cfg.GraphMaxDepth <= 0 {
		cfg.GraphMaxDepth = 2
	}
	return &Engine{store: s, router: router, cfg: cfg}
}

// Search runs vector, FTS, and graph retrieval concurrently and fuses
// the results with RRF.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]store.RetrievalResult, *Trace, error) {
	if opts.MaxResults == 0 {
		opts.MaxResults = 20
	}
	if opts.WeightVec == 0 {
		opts.WeightVec = e.cfg.WeightVector
	}
	if opts.WeightFTS == 0 {
		opts.WeightFTS = e.cfg.WeightFTS
	}
	if opts.WeightGraph == 0 {
		opts.WeightGraph = e.cfg.WeightGraph
	}

	trace := &Trace{VecWeight: opts.WeightVec, FTSWeight: opts.WeightFTS, GraphWeight: opts.WeightGraph}

	if detectIdentifiers(query) {
		slog.Debug("search: identifiers detected in query, boosting FTS weight", "query", query)
		opts.WeightFTS *= 2.0
		opts.WeightVec *= 0.5
		trace.IdentifiersDetected = true
		trace.VecWeight = opts.WeightVec
		trace.FTSWeight = opts.WeightFTS
	}

	terms := extractQueryTerms(query)
	trace.QueryTerms = terms

	start := time.Now()

	type result struct {
		results []store.RetrievalResult
		err     error
	}

	vecCh := make(chan result, 1)
	ftsCh := make(chan result, 1)
	graphCh := make(chan result, 1)

	go func() {
		r, err := e.vectorSearch(ctx, query, opts.MaxResults)
		vecCh <- result{r, err}
	}()
	go func() {
		r, err := e.store.FTSSearch(ctx, query, opts.MaxResults)
		ftsCh <- result{r, err}
	}()
	go func() {
		r, err := e.graphSearch(ctx, terms, opts.MaxResults)
		graphCh <- result{r, err}
	}()

	vecRes, ftsRes, graphRes := <-vecCh, <-ftsCh, <-graphCh

	if vecRes.err != nil {
		slog.Warn("search: vector search failed", "error", vecRes.err)
	}
	if ftsRes.err != nil {
		slog.Warn("search: fts search failed", "error", ftsRes.err)
	}
	if graphRes.err != nil {
		slog.Warn("search: graph search failed", "error", graphRes.err)
	}

	trace.VecResults = len(vecRes.results)
	trace.FTSResults = len(ftsRes.results)
	trace.GraphResults = len(graphRes.results)

	fused, infoMap := fuseRRF(
		vecRes.results, ftsRes.results, graphRes.results,
		opts.WeightVec, opts.WeightFTS, opts.WeightGraph,
		opts.MaxResults,
	)

	trace.FusedResults = len(fused)
	trace.MaxRequested = opts.MaxResults
	trace.PerResult = infoMap
	trace.ElapsedMs = time.Since(start).Milliseconds()

	if len(fused) == 0 {
		if vecRes.err != nil {
			return nil, trace, fmt.Errorf("vector search: %w", vecRes.err)
		}
		if ftsRes.err != nil {
			return nil, trace, fmt.Errorf("fts search: %w", ftsRes.err)
		}
		if graphRes.err != nil {
			return nil, trace, fmt.Errorf("graph search: %w", graphRes.err)
		}
	}

	return fused, trace, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	if e.router == nil || e.cfg.EmbeddingProfile == "" {
		return nil, nil
	}
	_, embeddings, err := e.router.EmbedCascade(ctx, e.cfg.EmbedRouteKey, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return e.store.VectorSearch(ctx, e.cfg.EmbeddingProfile, embeddings[0], k)
}

func (e *Engine) graphSearch(ctx context.Context, terms []string, limit int) ([]store.RetrievalResult, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	result, err := graph.Traverse(ctx, e.store, terms, e.cfg.GraphMaxDepth)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if len(result.Spans) > limit {
		return result.Spans[:limit], nil
	}
	return result.Spans, nil
}
