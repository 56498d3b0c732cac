package graph

import (
	"context"
	"fmt"

	"github.com/llmc/llmc/store"
)

// TraversalResult holds the entities and spans discovered by Traverse.
type TraversalResult struct {
	EntityIDs []int64
	Spans     []store.RetrievalResult
}

// Traverse finds entities matching query terms and walks relations
// outward up to maxDepth hops, collecting every entity reached and the
// spans attached to them. It is the graph leg of hybrid retrieval: a
// query for "Parser" also surfaces spans that call or extend Parser,
// not just the span that declares it.
func Traverse(ctx context.Context, s *store.Store, queryTerms []string, maxDepth int) (*TraversalResult, error) {
	if len(queryTerms) == 0 || maxDepth < 0 {
		return &TraversalResult{}, nil
	}

	seeds, err := s.SearchEntitiesByName(ctx, queryTerms, 50)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: looking up seed entities: %w", err)
	}
	if len(seeds) == 0 {
		return &TraversalResult{}, nil
	}

	visited := make(map[int64]bool)
	frontier := make([]int64, 0, len(seeds))
	for _, e := range seeds {
		if !visited[e.ID] {
			visited[e.ID] = true
			frontier = append(frontier, e.ID)
		}
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		related, err := s.GetRelatedEntities(ctx, frontier, 200)
		if err != nil {
			return nil, fmt.Errorf("graph.Traverse: expanding depth %d: %w", depth, err)
		}
		var next []int64
		for _, e := range related {
			if !visited[e.ID] {
				visited[e.ID] = true
				next = append(next, e.ID)
			}
		}
		frontier = next
	}

	entityIDs := make([]int64, 0, len(visited))
	for id := range visited {
		entityIDs = append(entityIDs, id)
	}

	spans, err := s.GraphSearch(ctx, entityIDs, 100)
	if err != nil {
		return nil, fmt.Errorf("graph.Traverse: resolving spans: %w", err)
	}

	return &TraversalResult{EntityIDs: entityIDs, Spans: spans}, nil
}
