package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// CostTracker accumulates spend across requests and rejects calls once
// a configured budget ceiling is reached. Shared across every backend
// wrapped by the same router, since the budget is a property of the
// whole cascade, not one backend.
type CostTracker struct {
	mu        sync.Mutex
	spentUSD  float64
	budgetUSD float64 // 0 disables enforcement
}

// NewCostTracker builds a tracker with the given budget ceiling in USD.
// A zero budget disables enforcement entirely.
func NewCostTracker(budgetUSD float64) *CostTracker {
	return &CostTracker{budgetUSD: budgetUSD}
}

// Reserve checks the budget before a call and returns ErrBudgetExceeded
// if spending it would exceed the ceiling.
func (c *CostTracker) Reserve(estimatedUSD float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budgetUSD > 0 && c.spentUSD+estimatedUSD > c.budgetUSD {
		return ErrBudgetExceeded
	}
	return nil
}

// Record adds actual spend after a call completes.
func (c *CostTracker) Record(actualUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spentUSD += actualUSD
}

// Spent returns total recorded spend so far.
func (c *CostTracker) Spent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spentUSD
}

// reliableProvider wraps a Provider with a token-bucket rate limiter, a
// three-state circuit breaker, and cost tracking. Every backend in the
// router's pool is wrapped once at construction time so the cascade
// executor never talks to a raw provider.
type reliableProvider struct {
	name    string
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cost    *CostTracker
	costPer1K float64
}

// newReliableProvider wraps inner with rate limiting (rps/burst, 0 rps
// disables limiting), a circuit breaker that opens after 5 consecutive
// failures and probes again after gobreaker's default 60s open
// timeout, and optional cost tracking.
func newReliableProvider(name string, inner Provider, rps float64, burst int, costPer1K float64, cost *CostTracker) *reliableProvider {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &reliableProvider{name: name, inner: inner, limiter: limiter, breaker: breaker, cost: cost, costPer1K: costPer1K}
}

func (p *reliableProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return &BackendError{Backend: p.name, Kind: KindRateLimited, Err: err}
	}
	return nil
}

func (p *reliableProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if p.cost != nil {
		if err := p.cost.Reserve(estimateRequestCost(req.MaxTokens, p.costPer1K)); err != nil {
			return nil, &BackendError{Backend: p.name, Kind: KindBudgetExceeded, Err: err}
		}
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &BackendError{Backend: p.name, Kind: KindCircuitOpen, Err: err}
		}
		return nil, &BackendError{Backend: p.name, Kind: KindTransport, Err: err}
	}

	resp := result.(*ChatResponse)
	if p.cost != nil {
		p.cost.Record(actualRequestCost(resp.TotalTokens, p.costPer1K))
	}
	return resp, nil
}

func (p *reliableProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.Embed(ctx, texts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &BackendError{Backend: p.name, Kind: KindCircuitOpen, Err: err}
		}
		return nil, &BackendError{Backend: p.name, Kind: KindTransport, Err: err}
	}
	return result.([][]float32), nil
}

func (p *reliableProvider) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	vp, ok := p.inner.(VisionProvider)
	if !ok {
		return nil, fmt.Errorf("%s: backend does not support vision", p.name)
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return vp.ChatWithImages(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &BackendError{Backend: p.name, Kind: KindCircuitOpen, Err: err}
		}
		return nil, &BackendError{Backend: p.name, Kind: KindTransport, Err: err}
	}
	return result.(*ChatResponse), nil
}

func estimateRequestCost(maxTokens int, costPer1K float64) float64 {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return float64(maxTokens) / 1000.0 * costPer1K
}

func actualRequestCost(totalTokens int, costPer1K float64) float64 {
	return float64(totalTokens) / 1000.0 * costPer1K
}
