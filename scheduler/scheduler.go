// Package scheduler selects which spans get enriched next. Spans are
// scored by the priority weight of the path pattern they match,
// combined with a content-type base so code generally outranks prose,
// but a strict weighted sort can starve low-priority paths
// indefinitely; the scheduler bounds that by forcing a low-weight span
// through the batch once a configured run of high-weight spans has
// been dispatched without one.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/llmc/llmc/store"
)

const (
	defaultMaxStarvationRatio = 5
	defaultBatchSize          = 16
	defaultMaxFailuresPerSpan = 3
	candidatePoolMultiplier   = 10

	defaultWeight = 5 // a path matching no configured pattern
	highWeightMax = 3 // weight <= 3 counts toward the starvation ratio
	lowWeightMin  = 6 // weight > 5 is the class starvation protects
)

// ScoredSpan pairs a pending span with the priority weight and score
// it was selected at, so the caller can route it through the right
// backend chain without re-deriving either.
type ScoredSpan struct {
	store.Span
	Weight int
	Score  float64
}

// Scheduler picks the next batch of spans needing enrichment, ordered
// by path-weight priority within a content-type base score, and
// bounded against starving any one weight class.
type Scheduler struct {
	store              *store.Store
	pathWeights        map[string]int
	maxStarvationRatio int
	batchSize          int
	maxFailuresPerSpan int

	sinceLowWeight int // high-weight spans dispatched since the last low-weight one
}

// New builds a Scheduler. pathWeights maps a glob pattern (matched
// against a span's owning file's repo-relative path) to a priority
// weight in [1, 10], lower meaning more urgent; a zero or negative
// maxStarvationRatio/batchSize falls back to a sensible default.
func New(s *store.Store, pathWeights map[string]int, maxStarvationRatio, batchSize int) *Scheduler {
	if maxStarvationRatio <= 0 {
		maxStarvationRatio = defaultMaxStarvationRatio
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Scheduler{
		store:              s,
		pathWeights:        pathWeights,
		maxStarvationRatio: maxStarvationRatio,
		batchSize:          batchSize,
		maxFailuresPerSpan: defaultMaxFailuresPerSpan,
	}
}

// WithMaxFailuresPerSpan overrides the default failure-count threshold
// (3) past which a span is held in cooldown instead of retried on
// every pull.
func (sc *Scheduler) WithMaxFailuresPerSpan(n int) *Scheduler {
	if n > 0 {
		sc.maxFailuresPerSpan = n
	}
	return sc
}

// weightFor resolves a span's path to its configured priority weight.
// Collision policy is pessimistic: when more than one pattern matches,
// the largest (least urgent) weight wins. Unmatched paths default to
// weight 5.
func (sc *Scheduler) weightFor(relativePath string) int {
	w, matched := defaultWeight, false
	for pattern, weight := range sc.pathWeights {
		ok, err := filepath.Match(pattern, relativePath)
		if err != nil || !ok {
			continue
		}
		if !matched || weight > w {
			w = weight
			matched = true
		}
	}
	return w
}

// base is the content-type scoring base: code ranks far above
// anything else, matching this scheduler's code-first priority.
func base(contentType string) float64 {
	if contentType == "code" {
		return 100
	}
	return 10
}

// score computes a span's effective priority. Every candidate this
// scheduler sees has never been enriched (an already-enriched span
// isn't a pending candidate), so the "never enriched" modifier always
// applies; the "changed since last enrichment" modifier has no
// candidate to apply to under the current re-enrichment model and is
// reserved for one.
func score(sp store.Span, weight int) float64 {
	s := base(sp.ContentType) * float64(11-weight) / 10
	s += 50
	if weight <= 2 {
		s += 20
	}
	switch {
	case s < 0:
		s = 0
	case s > 200:
		s = 200
	}
	return s
}

// Pull samples a candidate pool ten times the batch size, scores every
// span in it, and returns a batch ordered by that score with
// starvation bounding applied, excluding spans still in failure
// cooldown (see store.SampleSpansNeedingEnrichment).
func (sc *Scheduler) Pull(ctx context.Context, repoRoot string, cooldownUntil time.Time) ([]ScoredSpan, error) {
	pool, err := sc.store.SampleSpansNeedingEnrichment(ctx, repoRoot, sc.batchSize*candidatePoolMultiplier, cooldownUntil, sc.maxFailuresPerSpan, "")
	if err != nil {
		return nil, fmt.Errorf("scheduler: sampling candidate pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	scored := make([]ScoredSpan, len(pool))
	for i, sp := range pool {
		w := sc.weightFor(sp.RelativePath)
		scored[i] = ScoredSpan{Span: sp, Weight: w, Score: score(sp, w)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return sc.interleave(scored), nil
}

// interleave walks the score-sorted pool, keeping the weight-respecting
// invariant that no low-weight span is dispatched ahead of a remaining
// high-weight one, except to satisfy the starvation bound: once
// maxStarvationRatio consecutive high-weight (<= 3) spans have been
// dispatched without a low-weight (> 5) one, the next slot is forced to
// a low-weight span if one is available.
func (sc *Scheduler) interleave(sorted []ScoredSpan) []ScoredSpan {
	var high, mid, low []ScoredSpan
	for _, sp := range sorted {
		switch {
		case sp.Weight <= highWeightMax:
			high = append(high, sp)
		case sp.Weight >= lowWeightMin:
			low = append(low, sp)
		default:
			mid = append(mid, sp)
		}
	}

	batch := make([]ScoredSpan, 0, sc.batchSize)
	hi, lo, md := 0, 0, 0
	for len(batch) < sc.batchSize && (hi < len(high) || lo < len(low) || md < len(mid)) {
		if sc.sinceLowWeight >= sc.maxStarvationRatio && lo < len(low) {
			batch = append(batch, low[lo])
			lo++
			sc.sinceLowWeight = 0
			continue
		}
		switch {
		case hi < len(high):
			batch = append(batch, high[hi])
			hi++
			sc.sinceLowWeight++
		case md < len(mid):
			batch = append(batch, mid[md])
			md++
		case lo < len(low):
			batch = append(batch, low[lo])
			lo++
			sc.sinceLowWeight = 0
		}
	}
	return batch
}
