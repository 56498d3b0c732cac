package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/llmc/llmc/llm"
	"github.com/llmc/llmc/lock"
	"github.com/llmc/llmc/parser"
	"github.com/llmc/llmc/store"
)

// relationRefinementPrompt asks the model to find relations the
// regex-based pass cannot: calls routed through an intermediate
// variable, interface satisfaction without an explicit "implements"
// keyword, and similar indirection.
const relationRefinementPrompt = `You are a code relationship extraction engine.
Given one function/class/interface body and the other entity names known to be declared in the same file, identify relationships a naive text search would miss.

KNOWN ENTITIES IN THIS FILE:
%s

RELATION TYPES (use exactly these values):
- calls        : the source invokes the target, even indirectly through a variable
- extends      : the source inherits from or implements the target
- instantiates : the source constructs an instance of the target

Return a JSON object with exactly one key:
  "relations" : array of {"source": string, "target": string, "relation_type": string, "weight": number}

Rules:
- source and target must be names from KNOWN ENTITIES.
- weight is a float between 0.0 and 1.0 indicating confidence.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

SOURCE:
%s`

// refineFile fans out one LLM call per named span, bounded by the
// builder's concurrency limit, asking for relations the deterministic
// pass missed. It is a no-op when the builder has no router.
//
// Every goroutine's findings are relation patches, not direct writes:
// they fold into a single MERGE_META session keyed by file, which
// resolves concurrent (and possibly disagreeing) relation proposals
// with last-writer-wins semantics before anything reaches the store.
// This is what lets refinement run spans in parallel without one
// goroutine's insert racing another's for the same edge.
func (b *Builder) refineFile(ctx context.Context, fileID int64, spans []parser.Span, entityIDs map[string]int64) {
	if b.router == nil || len(entityIDs) < 2 {
		return
	}

	names := make([]string, 0, len(entityIDs))
	for n := range entityIDs {
		names = append(names, n)
	}
	knownList := strings.Join(names, ", ")

	var session *lock.MergeSession
	if b.locks != nil {
		var err error
		session, err = b.locks.BeginMerge(ctx, mergeKey(fileID), "graph-refine", b.mergeTTL)
		if err != nil {
			slog.Warn("graph: starting relation merge session failed, falling back to direct writes", "file_id", fileID, "error", err)
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, b.concurrency)

	for _, sp := range spans {
		if sp.Kind != parser.KindCode || sp.Symbol == "" {
			continue
		}
		srcID, ok := entityIDs[sp.Symbol]
		if !ok {
			continue
		}

		wg.Add(1)
		go func(sp parser.Span, srcID int64) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			patches, err := b.refineSpan(ctx, sp, srcID, knownList, entityIDs)
			if err != nil {
				slog.Warn("graph: llm relation refinement failed", "symbol", sp.Symbol, "error", err)
				return
			}
			if session != nil {
				session.Merge(patches)
			} else {
				b.writeRelations(ctx, patches)
			}
		}(sp, srcID)
	}
	wg.Wait()

	if session != nil {
		if err := session.Apply(func(patch lock.GraphPatch) error {
			b.writeRelations(ctx, patch.Relations)
			return nil
		}); err != nil {
			slog.Warn("graph: applying merged relation patch failed", "file_id", fileID, "error", err)
		}
	}
}

// writeRelations persists resolved relation patches to the store,
// logging individual insert failures without aborting the rest.
func (b *Builder) writeRelations(ctx context.Context, relations []lock.RelationPatch) {
	for _, r := range relations {
		if _, err := b.store.InsertGraphRelation(ctx, store.GraphRelation{
			SourceEntityID: r.SourceID,
			TargetEntityID: r.TargetID,
			RelationType:   r.RelationType,
			Weight:         r.Weight,
		}); err != nil {
			slog.Warn("graph: refined relation insert failed", "error", err)
		}
	}
}

func mergeKey(fileID int64) string {
	return fmt.Sprintf("graph-relations:%d", fileID)
}

func (b *Builder) refineSpan(ctx context.Context, sp parser.Span, srcID int64, knownList string, entityIDs map[string]int64) ([]lock.RelationPatch, error) {
	prompt := fmt.Sprintf(relationRefinementPrompt, knownList, sp.Text)

	result, err := b.router.ChatCascade(ctx, b.routeKey, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("relation refinement chat: %w", err)
	}

	jsonStr, err := extractJSON(result.Response.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing relation refinement result: %w", err)
	}

	var parsed relationResult
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshalling relation refinement result: %w", err)
	}

	discoveredAt := time.Now()
	var patches []lock.RelationPatch
	for _, r := range parsed.Relations {
		if strings.TrimSpace(r.Source) != sp.Symbol {
			continue
		}
		targetID, ok := entityIDs[strings.TrimSpace(r.Target)]
		if !ok {
			continue
		}
		relType := strings.ToLower(strings.TrimSpace(r.RelationType))
		if relType != RelCalls && relType != RelExtends && relType != RelInstantiates {
			continue
		}
		weight := r.Weight
		if weight <= 0 {
			weight = 0.6
		}
		patches = append(patches, lock.RelationPatch{
			SourceID:     srcID,
			TargetID:     targetID,
			RelationType: relType,
			Weight:       weight,
			DiscoveredAt: discoveredAt,
		})
	}
	return patches, nil
}
