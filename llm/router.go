package llm

import (
	"context"
	"fmt"
)

// BackendSpec configures one backend in the router's pool.
type BackendSpec struct {
	Name      string
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	RPS       float64
	Burst     int
	CostPer1K float64
}

// Router resolves a routing key (e.g. "code" or "code:python") to an
// ordered cascade of backends, most-preferred first, and hands back
// providers already wrapped with reliability middleware.
type Router struct {
	providers map[string]*reliableProvider
	routes    map[string][]string
	endpoints map[string]string
	cost      *CostTracker
}

// NewRouter constructs every backend in specs up front (so a
// misconfigured provider fails fast at startup) and wraps each with
// rate limiting, circuit breaking, and shared cost tracking.
func NewRouter(specs []BackendSpec, routes map[string][]string, budgetUSD float64) (*Router, error) {
	cost := NewCostTracker(budgetUSD)
	providers := make(map[string]*reliableProvider, len(specs))
	endpoints := make(map[string]string, len(specs))

	for _, spec := range specs {
		base, err := NewProvider(Config{
			Provider: spec.Provider,
			Model:    spec.Model,
			BaseURL:  spec.BaseURL,
			APIKey:   spec.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", spec.Name, err)
		}
		providers[spec.Name] = newReliableProvider(spec.Name, base, spec.RPS, spec.Burst, spec.CostPer1K, cost)
		endpoints[spec.Name] = spec.BaseURL
	}

	return &Router{providers: providers, routes: routes, endpoints: endpoints, cost: cost}, nil
}

// Endpoint returns the configured base URL for a backend name, for
// diagnostics and per-call logging; empty if the name isn't registered.
func (r *Router) Endpoint(name string) string {
	return r.endpoints[name]
}

// Chain returns the ordered backend names configured for a routing
// key. Callers that need a fallback should fall back to a generic key
// (e.g. the content type without a language suffix) themselves; Chain
// does no implicit widening so routing stays predictable.
func (r *Router) Chain(routeKey string) ([]string, error) {
	chain, ok := r.routes[routeKey]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, routeKey)
	}
	return chain, nil
}

// Provider returns the wrapped provider registered under name.
func (r *Router) Provider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// CostTracker exposes the shared budget tracker for diagnostics.
func (r *Router) CostTracker() *CostTracker {
	return r.cost
}

// Close releases resources held by every wrapped backend. The base
// OpenAI-compatible providers hold only an *http.Client, which needs
// no explicit close, but the hook exists so a future backend with a
// persistent connection (e.g. gRPC) has somewhere to release it.
func (r *Router) Close(ctx context.Context) error {
	return nil
}
