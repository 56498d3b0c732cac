// Package enrich runs the select → route → cascade → persist pipeline
// that turns a span needing enrichment into a stored natural-language
// summary: the scheduler selects a weight-ordered batch, each span's
// content type routes it to a backend chain, the router cascades
// through that chain, and the result (or failure) is written back to
// the store.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/llmc/llmc/llm"
	"github.com/llmc/llmc/scheduler"
	"github.com/llmc/llmc/store"
)

const (
	defaultFailureCooldown = 10 * time.Minute
	progressEvery          = 5
)

const summaryPrompt = `You are a code documentation engine. Summarize what the following %s does in one to three sentences, suitable as a search result snippet. Do not repeat the source verbatim, and do not include any text outside the summary itself.

SYMBOL: %s

SOURCE:
%s`

// ProgressFunc is invoked every few spans during a batch so a caller
// driving a long-running enrichment cycle (a CLI progress bar, a
// daemon status endpoint) can report where the batch stands. current
// and total are both 1-based counts; current may equal total on the
// final call of a batch that ran to completion.
type ProgressFunc func(current, total int)

// BatchResult summarizes the outcome of one RunOnce call.
type BatchResult struct {
	Attempted   int
	Succeeded   int
	Failed      int
	Skipped     int
	DurationSec float64
}

// SuccessRate returns succeeded/attempted, or 0 if nothing was attempted.
func (r BatchResult) SuccessRate() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Attempted)
}

// Pipeline wires the scheduler and backend router into a single
// enrichment cycle.
type Pipeline struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	router    *llm.Router
	cooldown  time.Duration
}

// New builds a Pipeline. cooldown bounds how soon a span that hit the
// scheduler's failure threshold becomes eligible for re-selection
// again; zero uses a ten-minute default.
func New(s *store.Store, sch *scheduler.Scheduler, router *llm.Router, cooldown time.Duration) *Pipeline {
	if cooldown <= 0 {
		cooldown = defaultFailureCooldown
	}
	return &Pipeline{store: s, scheduler: sch, router: router, cooldown: cooldown}
}

// RunOnce pulls a single weight-ordered batch from the scheduler and
// enriches every span in it, stopping early and cleanly if ctx is
// cancelled mid-batch. progress may be nil; when set, it is invoked
// every few spans and once more at the end of the batch. A per-span
// failure is logged and recorded for cooldown but does not abort the
// rest of the batch.
func (p *Pipeline) RunOnce(ctx context.Context, repoRoot string, progress ProgressFunc) (BatchResult, error) {
	start := time.Now()

	spans, err := p.scheduler.Pull(ctx, repoRoot, time.Now().Add(-p.cooldown))
	if err != nil {
		return BatchResult{}, fmt.Errorf("enrich: pulling batch: %w", err)
	}
	if len(spans) == 0 {
		return BatchResult{}, nil
	}

	slog.Info("enrich: batch pulled", "count", len(spans), "repo", repoRoot)

	result := BatchResult{Attempted: len(spans)}
	for i, sp := range spans {
		if ctx.Err() != nil {
			result.Attempted = i
			result.Skipped = len(spans) - i
			slog.Info("enrich: batch stopped early", "reason", ctx.Err(), "completed", i, "skipped", result.Skipped)
			break
		}

		spanStart := time.Now()
		detail, err := p.enrichSpan(ctx, sp.ContentType, sp.Span)
		if err != nil {
			result.Failed++
			failure, ferr := p.store.GetEnrichmentFailure(ctx, sp.ID)
			attempts := 1
			if ferr == nil {
				attempts = failure.Attempts
			}
			slog.Warn("enrich: span failed", "span_number", i+1, "span_id", sp.ID, "symbol", sp.Symbol, "content_type", sp.ContentType, "attempts", attempts, "error", truncate(err.Error(), 100))
		} else {
			result.Succeeded++
			slog.Info("enrich: span succeeded",
				"span_number", i+1,
				"path", sp.RelativePath,
				"lines", fmt.Sprintf("%d-%d", sp.StartLine, sp.EndLine),
				"duration_ms", time.Since(spanStart).Milliseconds(),
				"model", detail.model,
				"chain", detail.chain,
				"backend", detail.backend,
				"endpoint", detail.endpoint,
			)
		}

		if progress != nil && ((i+1)%progressEvery == 0 || i == len(spans)-1) {
			progress(i+1, len(spans))
		}
	}

	result.DurationSec = time.Since(start).Seconds()
	slog.Info("enrich: batch complete", "attempted", result.Attempted, "succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

// enrichmentDetail carries the fields a successful enrichment's log
// line needs, beyond what the caller already has from the span itself.
type enrichmentDetail struct {
	model    string
	chain    string
	backend  string
	endpoint string
}

func (p *Pipeline) enrichSpan(ctx context.Context, routeKey string, sp store.Span) (enrichmentDetail, error) {
	start := time.Now()

	kind := "function or type"
	if sp.ContentType == "prose" {
		kind = "section"
	}
	prompt := fmt.Sprintf(summaryPrompt, kind, symbolOrAnonymous(sp.Symbol), sp.RawText)

	result, err := p.router.ChatCascade(ctx, routeKey, llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		if recErr := p.store.RecordEnrichmentFailure(ctx, sp.ID, err.Error()); recErr != nil {
			slog.Warn("enrich: recording failure also failed", "span_id", sp.ID, "error", recErr)
		}
		return enrichmentDetail{}, fmt.Errorf("cascade: %w", err)
	}

	chain, _ := p.router.Chain(routeKey)
	chainStr := strings.Join(chain, ",")

	if err := p.store.UpsertEnrichment(ctx, store.Enrichment{
		SpanID:     sp.ID,
		Summary:    strings.TrimSpace(result.Response.Content),
		Model:      result.Response.Model,
		Chain:      chainStr,
		Backend:    result.Backend,
		Attempts:   1,
		DurationMS: time.Since(start).Milliseconds(),
	}); err != nil {
		return enrichmentDetail{}, fmt.Errorf("persisting enrichment: %w", err)
	}

	return enrichmentDetail{
		model:    result.Response.Model,
		chain:    chainStr,
		backend:  result.Backend,
		endpoint: p.router.Endpoint(result.Backend),
	}, nil
}

func symbolOrAnonymous(symbol string) string {
	if symbol == "" {
		return "(unnamed span)"
	}
	return symbol
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
