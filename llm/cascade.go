package llm

import (
	"context"
	"errors"
	"log/slog"
)

// CascadeResult records which backend in a chain actually produced the
// result, for provenance in the enrichment record.
type CascadeResult struct {
	Backend  string
	Response *ChatResponse
}

// ChatCascade tries each backend in routeKey's chain in order, moving
// to the next only when the current one returns a failover-eligible
// BackendError. A non-failover error (budget exceeded) aborts the
// whole chain immediately, since every backend shares the same budget.
func (r *Router) ChatCascade(ctx context.Context, routeKey string, req ChatRequest) (*CascadeResult, error) {
	chain, err := r.Chain(routeKey)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, name := range chain {
		p, ok := r.Provider(name)
		if !ok {
			continue
		}

		resp, err := p.Chat(ctx, req)
		if err == nil {
			return &CascadeResult{Backend: name, Response: resp}, nil
		}

		var be *BackendError
		if errors.As(err, &be) {
			slog.Warn("llm: backend failed in cascade", "backend", name, "route", routeKey, "kind", be.Kind, "error", be.Err)
			lastErr = err
			if !be.Failover() {
				return nil, err
			}
			continue
		}

		lastErr = err
		slog.Warn("llm: backend failed in cascade", "backend", name, "route", routeKey, "error", err)
	}

	if lastErr == nil {
		lastErr = ErrChainExhausted
	}
	return nil, errors.Join(ErrChainExhausted, lastErr)
}

// EmbedCascade mirrors ChatCascade for embedding requests.
func (r *Router) EmbedCascade(ctx context.Context, routeKey string, texts []string) (string, [][]float32, error) {
	chain, err := r.Chain(routeKey)
	if err != nil {
		return "", nil, err
	}

	var lastErr error
	for _, name := range chain {
		p, ok := r.Provider(name)
		if !ok {
			continue
		}

		vecs, err := p.Embed(ctx, texts)
		if err == nil {
			return name, vecs, nil
		}

		var be *BackendError
		if errors.As(err, &be) {
			lastErr = err
			if !be.Failover() {
				return "", nil, err
			}
			continue
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrChainExhausted
	}
	return "", nil, errors.Join(ErrChainExhausted, lastErr)
}
